// Троттлинг статусных правок. Телеграм не любит частые edit одного сообщения,
// поэтому промежуточные статусы шлются не чаще заданного интервала; финальный
// статус проходит всегда.

package transfer

import (
	"fmt"
	"sync"
	"time"
)

// Notifier доставляет статусный текст пользователю. Бот реализует его правкой
// статусного сообщения.
type Notifier interface {
	Notify(text string)
}

// NotifierFunc — адаптер функции к Notifier.
type NotifierFunc func(text string)

// Notify вызывает функцию.
func (f NotifierFunc) Notify(text string) { f(text) }

// Reporter прокидывает статусы с ограничением частоты.
type Reporter struct {
	mu       sync.Mutex
	out      Notifier
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewReporter собирает репортёр. out может быть nil, тогда статусы молча
// отбрасываются; nowFn подменяется в тестах (nil — time.Now).
func NewReporter(out Notifier, interval time.Duration, nowFn func() time.Time) *Reporter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Reporter{out: out, interval: interval, now: nowFn}
}

// Progress шлёт промежуточный статус, если с прошлой отправки прошло не меньше
// интервала.
func (r *Reporter) Progress(text string) {
	if r.out == nil {
		return
	}
	r.mu.Lock()
	now := r.now()
	if !r.last.IsZero() && now.Sub(r.last) < r.interval {
		r.mu.Unlock()
		return
	}
	r.last = now
	r.mu.Unlock()
	r.out.Notify(text)
}

// Final шлёт финальный статус без троттлинга.
func (r *Reporter) Final(text string) {
	if r.out == nil {
		return
	}
	r.mu.Lock()
	r.last = r.now()
	r.mu.Unlock()
	r.out.Notify(text)
}

// ByteProgress — байтовый прогресс перекачки одного файла: процент, скорость
// и оценка остатка. Промежуточные статусы идут через троттлинг репортёра.
type ByteProgress struct {
	r     *Reporter
	label string
	total int64
	start time.Time
}

// File начинает байтовый прогресс файла label объёмом total байт.
func (r *Reporter) File(label string, total int64) *ByteProgress {
	return &ByteProgress{r: r, label: label, total: total, start: r.now()}
}

// Update публикует текущее число перекачанных байт.
func (b *ByteProgress) Update(done int64) {
	if b == nil || b.r == nil {
		return
	}
	text := fmt.Sprintf("%s: %s / %s", b.label, formatBytes(done), formatBytes(b.total))
	if b.total > 0 {
		text = fmt.Sprintf("%s (%d%%)", text, done*100/b.total)
	}
	if elapsed := b.r.now().Sub(b.start); elapsed > 0 && done > 0 {
		rate := float64(done) / elapsed.Seconds()
		text = fmt.Sprintf("%s, %s/s", text, formatBytes(int64(rate)))
		if b.total > done && rate > 0 {
			eta := time.Duration(float64(b.total-done)/rate*float64(time.Second)).Round(time.Second)
			text = fmt.Sprintf("%s, ETA %s", text, eta)
		}
	}
	b.r.Progress(text)
}

// formatBytes печатает объём в привычных двоичных единицах.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
