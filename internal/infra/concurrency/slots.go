// Package concurrency — реестр слотов передачи. Объединяет три структуры
// процесса: множество пользователей с активной передачей (пер-пользовательский
// мьютекс), флаги кооперативной отмены и глобальный ограничитель одновременных
// передач. Инварианты:
//   - у пользователя не бывает двух активных передач;
//   - общее число передач не превышает ёмкость семафора;
//   - check-then-add выполняется атомарно под одним мьютексом, поэтому гонка
//     «двое прошли проверку одновременно» исключена;
//   - при заполненном семафоре запрос отклоняется сразу (TryAcquire), а не
//     ставится в бесконечную очередь.
package concurrency

import (
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrUserBusy — у пользователя уже есть передача в полёте.
var ErrUserBusy = errors.New("concurrency: user already has an active transfer")

// ErrServerBusy — все глобальные слоты заняты.
var ErrServerBusy = errors.New("concurrency: all transfer slots are busy")

// Registry — потокобезопасный реестр слотов. Инжектируется в оркестратор и
// админ-команды; в тестах создаётся с малой ёмкостью.
type Registry struct {
	mu       sync.Mutex
	active   map[int64]struct{}
	cancels  map[int64]struct{}
	sem      *semaphore.Weighted
	capacity int
}

// NewRegistry создаёт реестр с ёмкостью slots глобальных слотов.
func NewRegistry(slots int) *Registry {
	if slots < 1 {
		slots = 1
	}
	return &Registry{
		active:   make(map[int64]struct{}),
		cancels:  make(map[int64]struct{}),
		sem:      semaphore.NewWeighted(int64(slots)),
		capacity: slots,
	}
}

// TryAcquire пытается занять слот для пользователя. Порядок проверок
// фиксирован: сначала пер-пользовательский флаг (дешёвый отказ), затем
// глобальный семафор — чтобы не жечь глобальный слот на заведомо лишний
// запрос. Успех обязывает вызвать Release ровно один раз.
func (r *Registry) TryAcquire(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.active[userID]; busy {
		return ErrUserBusy
	}
	if !r.sem.TryAcquire(1) {
		return ErrServerBusy
	}
	r.active[userID] = struct{}{}
	return nil
}

// Release освобождает слот пользователя и глобальный слот. Безопасен при
// повторном вызове: чужие и уже освобождённые слоты не трогаются.
// Заодно снимает висящий флаг отмены, чтобы он не сработал на следующей передаче.
func (r *Registry) Release(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[userID]; !ok {
		return
	}
	delete(r.active, userID)
	delete(r.cancels, userID)
	r.sem.Release(1)
}

// RequestCancel взводит флаг кооперативной отмены для пользователя с активной
// передачей. Возвращает false, если передачи нет.
func (r *Registry) RequestCancel(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[userID]; !ok {
		return false
	}
	r.cancels[userID] = struct{}{}
	return true
}

// CancelRequested проверяет флаг отмены. Опрашивается оркестратором между
// элементами batch-передачи.
func (r *Registry) CancelRequested(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancels[userID]
	return ok
}

// CancelAll взводит флаги отмены всем активным передачам (админский /killall).
// Возвращает число затронутых пользователей.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range r.active {
		r.cancels[id] = struct{}{}
	}
	return len(r.active)
}

// ActiveCount возвращает число передач в полёте (для /stats).
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Capacity возвращает настроенную ёмкость семафора.
func (r *Registry) Capacity() int { return r.capacity }
