package account

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound возвращается Store, когда запись отсутствует.
var ErrNotFound = errors.New("account: not found")

// Store — контракт персистентного слоя для учётных записей. Реализуется
// bbolt-хранилищем; в тестах подменяется картой в памяти.
type Store interface {
	// FindUser возвращает запись или ошибку, совместимую с ErrNotFound.
	FindUser(id int64) (*User, error)
	// UpsertUser записывает запись целиком.
	UpsertUser(u *User) error
	// UpdateUser атомарно выполняет read-modify-write; mutate видит актуальную
	// запись и может её менять. Возвращает итоговое состояние.
	UpdateUser(id int64, mutate func(*User) error) (*User, error)
}

// Service — операции над учётными записями поверх Store: создание при первом
// контакте, автоматическое повышение владельца, логин/логаут, роли, бан.
type Service struct {
	store   Store
	ownerID int64
	now     func() time.Time
}

// NewService собирает сервис. ownerID=0 отключает автоповышение владельца.
// nowFn подменяется в тестах; nil означает time.Now.
func NewService(store Store, ownerID int64, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{store: store, ownerID: ownerID, now: nowFn}
}

// Get возвращает учётную запись, создавая её при первом контакте.
// Совпадение с OWNER_ID повышает роль до owner прямо на пути чтения.
func (s *Service) Get(id int64) (*User, error) {
	u, err := s.store.FindUser(id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("find user %d: %w", id, err)
		}
		u = New(id, s.now())
		if s.ownerID != 0 && id == s.ownerID {
			u.Role = RoleOwner
		}
		if upErr := s.store.UpsertUser(u); upErr != nil {
			return nil, fmt.Errorf("create user %d: %w", id, upErr)
		}
		return u, nil
	}
	if s.ownerID != 0 && id == s.ownerID && u.Role != RoleOwner {
		return s.store.UpdateUser(id, func(u *User) error {
			u.Role = RoleOwner
			u.UpdatedAt = s.now().UTC()
			return nil
		})
	}
	return u, nil
}

// AgreeTerms фиксирует согласие с условиями использования.
func (s *Service) AgreeTerms(id int64) error {
	_, err := s.Mutate(id, func(u *User) error {
		u.IsAgreedTerms = true
		return nil
	})
	return err
}

// SaveSession сохраняет сессионную строку после успешного логина.
func (s *Service) SaveSession(id int64, session string) error {
	_, err := s.Mutate(id, func(u *User) error {
		u.PhoneSessionString = session
		return nil
	})
	return err
}

// Logout стирает сессионную строку; сама запись остаётся.
func (s *Service) Logout(id int64) error {
	_, err := s.Mutate(id, func(u *User) error {
		u.PhoneSessionString = ""
		return nil
	})
	return err
}

// SetRole назначает роль; для premium с duration задаётся дата истечения,
// без duration премиум бессрочный.
func (s *Service) SetRole(id int64, role Role, durationDays int) error {
	_, err := s.Mutate(id, func(u *User) error {
		u.Role = role
		u.PremiumExpiryDate = ""
		if role == RolePremium && durationDays > 0 {
			u.PremiumExpiryDate = DateKey(s.now().AddDate(0, 0, durationDays))
		}
		return nil
	})
	return err
}

// SetBanned включает или снимает бан.
func (s *Service) SetBanned(id int64, banned bool) error {
	_, err := s.Mutate(id, func(u *User) error {
		u.IsBanned = banned
		return nil
	})
	return err
}

// RecordAdShown инкрементирует дневной счётчик рекламы (с ленивым сбросом дня).
func (s *Service) RecordAdShown(id int64) error {
	today := DateKey(s.now())
	_, err := s.Mutate(id, func(u *User) error {
		u.ResetAdDayIfStale(today)
		u.AdsToday++
		u.LastAdDate = today
		return nil
	})
	return err
}

// AdsShownToday возвращает число показов рекламы за сегодня с self-heal
// устаревшего счётчика.
func (s *Service) AdsShownToday(id int64) (int, error) {
	today := DateKey(s.now())
	u, err := s.Mutate(id, func(u *User) error {
		u.ResetAdDayIfStale(today)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return u.AdsToday, nil
}

// Mutate — общий путь изменения с созданием записи при её отсутствии и
// обновлением UpdatedAt.
func (s *Service) Mutate(id int64, fn func(*User) error) (*User, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	return s.store.UpdateUser(id, func(u *User) error {
		if err := fn(u); err != nil {
			return err
		}
		u.UpdatedAt = s.now().UTC()
		return nil
	})
}
