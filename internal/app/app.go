// Package app — верхний уровень сборки и инициализации бота. Здесь связываются
// конфигурация, сетевой слой (gotd/telegram), диспетчер апдейтов, хранилища и
// доменные сервисы. Отсюда стартует цикл обработки событий и обеспечивается
// корректный shutdown.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telegram-downloader/internal/bot"
	"telegram-downloader/internal/domain/account"
	"telegram-downloader/internal/domain/ads"
	"telegram-downloader/internal/domain/gate"
	"telegram-downloader/internal/domain/login"
	"telegram-downloader/internal/domain/quota"
	"telegram-downloader/internal/domain/transfer"
	"telegram-downloader/internal/infra/concurrency"
	"telegram-downloader/internal/infra/config"
	"telegram-downloader/internal/infra/logger"
	"telegram-downloader/internal/infra/storage"
	"telegram-downloader/internal/infra/store"
	"telegram-downloader/internal/support/version"
	"telegram-downloader/internal/telegram/peersmgr"
	"telegram-downloader/internal/telegram/relay"
	"telegram-downloader/internal/telegram/session"
	"telegram-downloader/internal/telegram/userclient"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
)

// lazyUpdateHandler — это обёртка, которая позволяет отложить установку
// реального обработчика апдейтов, разрывая цикл инициализации.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// loginTTL — сколько живёт незавершённый диалог авторизации до принудительной
// отмены; код Telegram к этому моменту всё равно протухает.
const loginTTL = 10 * time.Minute

// App агрегирует зависимости бота и управляет их связью.
// Отвечает за:
//   - конфигурацию и телеграм-клиента (авторизация, API),
//   - хранилища: учётные записи, настройки, кэш пиров, состояние апдейтов,
//   - доменные сервисы: квоты, допуск, авторизация пользователей, передача,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.
	db         *store.DB          // Учётные записи и настройки.
	peers      *peersmgr.Service  // Менеджер пиров + persist storage.
	stateDB    *bbolt.DB          // Состояние менеджера апдейтов.
	loginMgr   *login.Manager     // Диалоги авторизации пользовательских сессий.
	updMgr     *tgupdates.Manager // Менеджер апдейтов gotd.
	waiter     *floodwait.Waiter  // Middleware для обработки FLOOD_WAIT.
	runner     *Runner            // Оркестратор жизненного цикла.
}

// NewApp создаёт каркас приложения. Фактическая инициализация выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run собирает все подсистемы и запускает основной цикл. Блокируется до
// остановки приложения и возвращает ошибку, если что-то пошло не так.
func (a *App) Run() error {
	logger.Info("Bot initializing...")
	env := config.Env()

	dispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	a.waiter = floodwait.NewWaiter()

	// 1) Опции MTProto-клиента: сессия, хуки апдейтов и паспорт устройства.
	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			a.waiter,
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    version.Version,
		},
	}

	// Для тестовых окружений используем DC тестового стенда Telegram.
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(env.APIID, env.APIHash, options)

	peersSvc, peersMgrErr := peersmgr.New(client.API(), env.PeersCacheFile)
	if peersMgrErr != nil {
		return fmt.Errorf("init peers manager: %w", peersMgrErr)
	}
	a.peers = peersSvc

	// Инициализация хранилища состояния апдейтов.
	if err := storage.EnsureDir(env.StateFile); err != nil {
		return fmt.Errorf("ensure state file dir: %w", err)
	}
	stateDB, err := bbolt.Open(env.StateFile, storage.DefaultFilePerm, nil)
	if err != nil {
		return errors.Wrap(err, "create bolt storage")
	}
	a.stateDB = stateDB
	stateStorage := boltstor.NewStateStorage(stateDB)

	// Инициализация менеджера апдейтов.
	a.updMgr = tgupdates.New(tgupdates.Config{
		Handler:      dispatcher,
		Storage:      stateStorage,
		AccessHasher: peersSvc.Mgr,
	})

	// Устанавливаем реальный обработчик в lazyHandler.
	realHandler := contribstorage.UpdateHook(peersSvc.Mgr.UpdateHook(a.updMgr), peersSvc.Store())
	lazyHandler.set(realHandler)

	// Учётные записи и настройки.
	db, err := store.Open(env.DBFile)
	if err != nil {
		return fmt.Errorf("open account store: %w", err)
	}
	a.db = db

	accounts := account.NewService(db, env.OwnerID, nil)
	ledger := quota.NewLedger(accounts, env.DailyFreeLimit, nil)
	slots := concurrency.NewRegistry(env.MaxConcurrentDownloads)

	// Рекламная сеть: внешний провайдер при заданных ключах, иначе только фолбэк.
	var adProvider ads.Provider
	if env.AdPublisherID != "" && env.AdWidgetID != "" {
		adProvider = ads.NewHTTPProvider(env.AdEndpoint, env.AdPublisherID, env.AdWidgetID)
	}
	adSvc := ads.NewService(adProvider, ads.DefaultStatic(), accounts, env.AdDailyLimit)

	gatePipeline := gate.NewPipeline(accounts, ledger, peersSvc, db, adSvc)

	a.loginMgr = login.NewManager(&userclient.AuthDialer{
		APIID:       env.APIID,
		APIHash:     env.APIHash,
		ThrottleRPS: env.ThrottleRPS,
		TestDC:      env.TestDC,
	}, accounts, loginTTL, nil)

	// Dump-канал: настройка из БД имеет приоритет над значением окружения.
	dumpChannel := func() (int64, bool) {
		if id, ok := db.DumpChannelID(); ok {
			return id, true
		}
		if env.DumpChannelID != 0 {
			return env.DumpChannelID, true
		}
		return 0, false
	}

	opener := relay.NewOpener(relay.Options{
		BotAPI:      client.API(),
		Peers:       peersSvc,
		APIID:       env.APIID,
		APIHash:     env.APIHash,
		ThrottleRPS: env.ThrottleRPS,
		TestDC:      env.TestDC,
		DumpChannel: dumpChannel,
		MemoryLimit: int64(env.MemoryThresholdMB) << 20,
		ScratchDir:  env.DownloadDir,
	})

	orch := transfer.NewOrchestrator(
		accounts,
		ledger,
		slots,
		opener,
		env.BatchLimit,
		time.Duration(env.TransferTimeoutMin)*time.Minute,
	)

	b := bot.New(bot.Options{
		API:              client.API(),
		Peers:            peersSvc,
		DB:               db,
		Accounts:         accounts,
		Ledger:           ledger,
		Gate:             gatePipeline,
		Login:            a.loginMgr,
		Orch:             orch,
		Slots:            slots,
		Ads:              adSvc,
		PaymentContact:   env.PaymentContact,
		ProgressInterval: time.Duration(env.ProgressEditIntervalSec) * time.Second,
	})
	b.Register(dispatcher)

	a.runner = NewRunner(a.mainCtx, a.mainCancel, client, a.db, a.peers, a.stateDB, a.loginMgr)

	return a.runner.Run(a.waiter, a.updMgr)
}
