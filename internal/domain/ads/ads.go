// Package ads — показ рекламы бесплатным пользователям. Объявление
// запрашивается у внешней сети по HTTP; при недоступности сети или пустом
// ответе используется статический фолбэк. Любая ошибка здесь не блокирует
// передачу: реклама строго best-effort.
package ads

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"

	"telegram-downloader/internal/infra/logger"
)

// Ad — одно рекламное объявление для вставки в чат.
type Ad struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"link"`
}

// Empty сообщает, пустое ли объявление.
func (a Ad) Empty() bool { return a.Text == "" && a.Title == "" }

// Provider отдаёт очередное объявление для пользователя.
type Provider interface {
	Fetch(ctx context.Context, userID int64) (Ad, error)
}

// HTTPProvider — клиент рекламной сети. Шлёт POST с идентификаторами
// паблишера, виджета и пользователя, ждёт JSON-объявление в ответ.
type HTTPProvider struct {
	client      *http.Client
	endpoint    string
	publisherID string
	widgetID    string
}

// NewHTTPProvider создаёт провайдера с собственным таймаутом запроса: медленная
// рекламная сеть не должна задерживать передачу.
func NewHTTPProvider(endpoint, publisherID, widgetID string) *HTTPProvider {
	return &HTTPProvider{
		client:      &http.Client{Timeout: 5 * time.Second},
		endpoint:    endpoint,
		publisherID: publisherID,
		widgetID:    widgetID,
	}
}

type adRequest struct {
	PublisherID string `json:"publisher_id"`
	WidgetID    string `json:"widget_id"`
	UserID      int64  `json:"user_id"`
}

// Fetch запрашивает объявление у сети.
func (p *HTTPProvider) Fetch(ctx context.Context, userID int64) (Ad, error) {
	body, err := json.Marshal(adRequest{
		PublisherID: p.publisherID,
		WidgetID:    p.widgetID,
		UserID:      userID,
	})
	if err != nil {
		return Ad{}, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Ad{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Ad{}, errors.Wrap(err, "request ad network")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Ad{}, errors.Errorf("ad network status %d", resp.StatusCode)
	}

	var ad Ad
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&ad); err != nil {
		return Ad{}, errors.Wrap(err, "decode ad")
	}
	return ad, nil
}

// Static — фолбэк-провайдер с фиксированным объявлением об апгрейде.
type Static struct {
	Ad Ad
}

// Fetch возвращает статическое объявление.
func (s Static) Fetch(context.Context, int64) (Ad, error) {
	return s.Ad, nil
}

// DefaultStatic возвращает фолбэк по умолчанию.
func DefaultStatic() Static {
	return Static{Ad: Ad{
		Title: "Go unlimited",
		Text:  "Enjoying the bot? Upgrade to premium for unlimited downloads and no ads — /upgrade",
	}}
}

// Counter — счётчики показов в учётной записи пользователя.
type Counter interface {
	RecordAdShown(id int64) error
	AdsShownToday(id int64) (int, error)
}

// Service принимает решение «показывать ли рекламу сейчас» и достаёт
// объявление. Дневной лимит показов ограничивает назойливость.
type Service struct {
	provider   Provider
	fallback   Provider
	counter    Counter
	dailyLimit int
}

// NewService собирает сервис. provider может быть nil, тогда работает только
// фолбэк. dailyLimit <= 0 отключает показ полностью.
func NewService(provider Provider, fallback Provider, counter Counter, dailyLimit int) *Service {
	return &Service{provider: provider, fallback: fallback, counter: counter, dailyLimit: dailyLimit}
}

// Next возвращает объявление для показа пользователю, либо ok=false, когда
// показывать нечего или не нужно. Счётчик показов инкрементируется только при
// положительном решении.
func (s *Service) Next(ctx context.Context, userID int64) (Ad, bool) {
	if s.dailyLimit <= 0 {
		return Ad{}, false
	}

	shown, err := s.counter.AdsShownToday(userID)
	if err != nil {
		logger.Warnf("ads: read counter for %d: %v", userID, err)
		return Ad{}, false
	}
	if shown >= s.dailyLimit {
		return Ad{}, false
	}

	ad := s.fetch(ctx, userID)
	if ad.Empty() {
		return Ad{}, false
	}

	if err := s.counter.RecordAdShown(userID); err != nil {
		logger.Warnf("ads: record show for %d: %v", userID, err)
	}
	return ad, true
}

func (s *Service) fetch(ctx context.Context, userID int64) Ad {
	if s.provider != nil {
		ad, err := s.provider.Fetch(ctx, userID)
		if err == nil && !ad.Empty() {
			return ad
		}
		if err != nil {
			logger.Debugf("ads: network fetch for %d: %v", userID, err)
		}
	}
	if s.fallback == nil {
		return Ad{}
	}
	ad, err := s.fallback.Fetch(ctx, userID)
	if err != nil {
		return Ad{}
	}
	return ad
}
