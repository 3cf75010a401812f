// Файл runner.go — точка оркестрации: здесь выполняется авторизация бота,
// стартует менеджер обновлений и организуется корректный graceful shutdown.
// Отдельный контекст для MTProto-движка даёт сервисам шанс завершить операции
// до гашения сетевого уровня.
package app

import (
	"context"
	"sync"
	"time"

	"telegram-downloader/internal/domain/login"
	"telegram-downloader/internal/infra/config"
	"telegram-downloader/internal/infra/logger"
	"telegram-downloader/internal/infra/store"
	"telegram-downloader/internal/telegram/peersmgr"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// loginSweepPeriod — периодичность очистки протухших диалогов авторизации.
const loginSweepPeriod = time.Minute

// Runner инкапсулирует сценарий запуска и остановки Telegram-клиента и
// связанных подсистем. Отвечает за:
//   - авторизацию бота и идентификацию self,
//   - запуск менеджера апдейтов и фоновой очистки диалогов авторизации,
//   - корректное завершение: сначала останавливаются сервисы, затем закрываются хранилища.
type Runner struct {
	client       *telegram.Client   // Обёртка над MTProto-клиентом и API.
	db           *store.DB          // Учётные записи и настройки.
	peers        *peersmgr.Service  // Сервис пиров (peers.Manager + persist storage).
	stateDB      *bbolt.DB          // Состояние менеджера апдейтов.
	loginMgr     *login.Manager     // Диалоги авторизации пользовательских сессий.
	mainCtx      context.Context    // Внешний контекст процесса: отменяется по Ctrl+C/сигналам.
	mainCancel   context.CancelFunc // Функция, инициирующая общий shutdown.
	servicesWG   sync.WaitGroup     // WaitGroup фоновых сервисов (updates_manager, login_sweeper).
	servicesStop context.CancelFunc // Отмена контекста фоновых сервисов.
	servicesMu   sync.Mutex         // Защита servicesStop от гонки запуска и остановки.
	shutdownOnce sync.Once          // stopAllServices выполняется ровно один раз.
}

// NewRunner подготавливает Runner с переданными зависимостями.
// Возвращает объект, готовый к запуску Run().
func NewRunner(
	mainCtx context.Context,
	mainCancel context.CancelFunc,
	client *telegram.Client,
	db *store.DB,
	peers *peersmgr.Service,
	stateDB *bbolt.DB,
	loginMgr *login.Manager,
) *Runner {
	return &Runner{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
		client:     client,
		db:         db,
		peers:      peers,
		stateDB:    stateDB,
		loginMgr:   loginMgr,
	}
}

// Run — главный цикл бота. Выполняет логин, стартует updates.Manager и
// управляет корректным завершением. Блокируется до завершения клиентского контекста.
func (r *Runner) Run(waiter *floodwait.Waiter, updmgr *tgupdates.Manager) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	// Отслеживание сигналов запускаем сразу, чтобы Ctrl+C работал во время инициализации.
	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-r.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	})

	return waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.client.Run(ctx, func(ctx context.Context) error {
			logger.Info("Bot running...")

			self, loginErr := r.loginSelf(ctx)
			if loginErr != nil {
				return loginErr
			}

			if err := r.startAllServices(ctx, updmgr, self.ID); err != nil {
				r.stopAllServices()
				return err
			}

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

// loginSelf авторизует бота по токену, если сохранённая сессия невалидна,
// и возвращает self.
func (r *Runner) loginSelf(ctx context.Context) (*tg.User, error) {
	status, err := r.client.Auth().Status(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "auth status")
	}
	if !status.Authorized {
		if _, botErr := r.client.Auth().Bot(ctx, config.Env().BotToken); botErr != nil {
			return nil, errors.Wrap(botErr, "bot login")
		}
	}

	self, err := r.client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "self")
	}
	logger.Logger().Info("Logged in as:",
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

func (r *Runner) startAllServices(ctx context.Context, updmgr *tgupdates.Manager, selfID int64) error {
	servicesCtx, servicesCancel := context.WithCancel(ctx)
	r.servicesMu.Lock()
	r.servicesStop = servicesCancel
	r.servicesMu.Unlock()

	// login_sweeper
	logger.Debug("starting service login_sweeper")
	r.servicesWG.Go(func() {
		ticker := time.NewTicker(loginSweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-servicesCtx.Done():
				return
			case <-ticker.C:
				if n := r.loginMgr.SweepStale(); n > 0 {
					logger.Debugf("login_sweeper: dropped %d stale conversations", n)
				}
			}
		}
	})
	logger.Debug("service login_sweeper started")

	// updates_manager
	logger.Debug("starting service updates_manager")
	r.servicesWG.Go(func() {
		mgrErr := updmgr.Run(servicesCtx, r.client.API(), selfID, tgupdates.AuthOptions{
			IsBot:  true,
			Forget: false,
			OnStart: func(context.Context) {
				logger.Debug("Updates manager started")
			},
		})
		if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
			logger.Errorf("updmgr.Run return: %v", mgrErr)
			r.mainCancel()
		}
		logger.Debugf("updates_manager service: Run finished (err=%v)", mgrErr)
	})
	logger.Debug("service updates_manager started")

	return nil
}

func (r *Runner) stopAllServices() {
	r.shutdownOnce.Do(func() {
		// Останавливаем в обратном порядке.

		logger.Debug("stopping background services")
		r.servicesMu.Lock()
		if r.servicesStop != nil {
			r.servicesStop()
		}
		r.servicesMu.Unlock()
		r.servicesWG.Wait()
		logger.Debug("background services stopped")

		logger.Debug("stopping service peers_manager")
		if err := r.peers.Close(); err != nil {
			logger.Errorf("failed to stop peers_manager: %v", err)
		}
		logger.Debug("service peers_manager stopped")

		logger.Debug("closing updates state storage")
		if err := r.stateDB.Close(); err != nil {
			logger.Errorf("failed to close updates state storage: %v", err)
		}

		logger.Debug("closing account store")
		if err := r.db.Close(); err != nil {
			logger.Errorf("failed to close account store: %v", err)
		}
	})
}
