// Package userclient — короткоживущие MTProto-клиенты под пользовательскими
// сессиями. Клиент поднимается в фоне (client.Run в горутине с сигналом
// готовности), живёт на время одной операции (вход или передача) и гасится
// отменой контекста. Долгоживущее соединение здесь держит только бот.
package userclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	tdsession "github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"golang.org/x/time/rate"

	"telegram-downloader/internal/infra/logger"
)

// dialTimeout ограничивает ожидание первого подключения к DC.
const dialTimeout = 15 * time.Second

// Options — параметры подключения пользовательского клиента.
type Options struct {
	APIID          int
	APIHash        string
	SessionStorage tdsession.Storage
	ThrottleRPS    int
	TestDC         bool
}

// Client — работающее фоновое подключение. Close обязателен и идемпотентен.
type Client struct {
	tg     *telegram.Client
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Dial поднимает клиента и ждёт готовности соединения. Возвращённый клиент
// уже подключён; авторизованность сессии не проверяется, это дело вызывающего.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	rps := opts.ThrottleRPS
	if rps <= 0 {
		rps = 5
	}
	tgOpts := telegram.Options{
		SessionStorage: opts.SessionStorage,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
			ratelimit.New(rate.Limit(rps), rps*2),
		},
	}
	if opts.TestDC {
		tgOpts.DCList = dcs.Test()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		tg:     telegram.NewClient(opts.APIID, opts.APIHash, tgOpts),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	ready := make(chan struct{})
	go func() {
		defer close(c.done)
		err := c.tg.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Debugf("userclient: run finished: %v", err)
		}
	}()

	select {
	case <-ready:
		return c, nil
	case <-c.done:
		cancel()
		return nil, errors.New("userclient: connection closed before ready")
	case <-time.After(dialTimeout):
		cancel()
		return nil, errors.New("userclient: connection timeout")
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// API возвращает RPC-клиента соединения.
func (c *Client) API() *tg.Client { return c.tg.API() }

// Auth возвращает авторизационный суб-клиент.
func (c *Client) Auth() *auth.Client { return c.tg.Auth() }

// Close гасит соединение и дожидается завершения фоновой горутины.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
}
