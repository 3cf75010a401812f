// Пакет account описывает учётную запись пользователя бота и операции над ней:
// создание при первом контакте, роли, согласие с условиями, сессионную строку,
// бан и ленивое понижение просроченного премиума. Контракт полей повторяет
// документ хранилища: счётчики дневные, даты — календарные строки UTC.
package account

import (
	"time"
)

// Role — роль пользователя. Роли выше free снимают дневные лимиты.
type Role string

const (
	RoleFree    Role = "free"
	RolePremium Role = "premium"
	RoleAdmin   Role = "admin"
	RoleOwner   Role = "owner"
)

// ParseRole нормализует строку роли; ok=false для неизвестных значений.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleFree, RolePremium, RoleAdmin, RoleOwner:
		return Role(s), true
	default:
		return "", false
	}
}

// Privileged сообщает, освобождена ли роль от дневных квот.
// Для premium вызывающий обязан сначала выполнить ленивое понижение (DemoteIfExpired).
func (r Role) Privileged() bool {
	switch r {
	case RolePremium, RoleAdmin, RoleOwner:
		return true
	default:
		return false
	}
}

// minSessionLen — минимальная длина валидной сессионной строки; более короткие
// значения считаются мусором и эквивалентны отсутствию логина.
const minSessionLen = 10

// DateKey форматирует момент времени в календарный ключ UTC (YYYY-MM-DD),
// которым датируются дневные счётчики.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// User — учётная запись пользователя. Создаётся при первом контакте и никогда
// не удаляется: деактивация выражается флагами (бан, logout).
type User struct {
	TelegramID         int64     `json:"telegram_id"`
	Role               Role      `json:"role"`
	DownloadsToday     int       `json:"downloads_today"`
	LastDownloadDate   string    `json:"last_download_date"`
	IsAgreedTerms      bool      `json:"is_agreed_terms"`
	PhoneSessionString string    `json:"phone_session_string,omitempty"`
	PremiumExpiryDate  string    `json:"premium_expiry_date,omitempty"`
	IsBanned           bool      `json:"is_banned"`
	AdsToday           int       `json:"ads_today"`
	LastAdDate         string    `json:"last_ad_date"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// New создаёт учётную запись с ролью free и нулевыми счётчиками на сегодня.
func New(id int64, now time.Time) *User {
	day := DateKey(now)
	return &User{
		TelegramID:       id,
		Role:             RoleFree,
		LastDownloadDate: day,
		LastAdDate:       day,
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}
}

// HasSession сообщает, есть ли у пользователя пригодная сессионная строка.
func (u *User) HasSession() bool {
	return len(u.PhoneSessionString) >= minSessionLen
}

// DemoteIfExpired лениво понижает просроченный премиум до free.
// Premium без даты истечения считается бессрочным. Возвращает true, если
// запись изменилась (понижение происходит ровно один раз: дата очищается).
func (u *User) DemoteIfExpired(today string) bool {
	if u.Role != RolePremium || u.PremiumExpiryDate == "" {
		return false
	}
	if u.PremiumExpiryDate > today {
		return false
	}
	u.Role = RoleFree
	u.PremiumExpiryDate = ""
	return true
}

// ResetDayIfStale сбрасывает дневной счётчик загрузок, если дата устарела.
// Read-path self-heal: фоновые задачи не требуются.
func (u *User) ResetDayIfStale(today string) bool {
	if u.LastDownloadDate == today {
		return false
	}
	u.DownloadsToday = 0
	u.LastDownloadDate = today
	return true
}

// ResetAdDayIfStale делает то же самое для счётчика показанной рекламы.
func (u *User) ResetAdDayIfStale(today string) bool {
	if u.LastAdDate == today {
		return false
	}
	u.AdsToday = 0
	u.LastAdDate = today
	return true
}
