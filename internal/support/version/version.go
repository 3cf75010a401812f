// Package version хранит версию сборки. Значение подставляется при сборке:
//
//	go build -ldflags "-X telegram-downloader/internal/support/version.Version=v1.2.3"
package version

// Version — версия приложения; по умолчанию dev-сборка.
var Version = "dev"
