package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

// Имена настроек, управляемых админ-командами в рантайме.
const (
	SettingForceSubChannel = "force_sub_channel"
	SettingDumpChannelID   = "dump_channel_id"
	SettingAdConfig        = "ad_config"
)

// Setting — настройка процесса с upsert-семантикой: строковое значение плюс
// опциональное структурированное (JSON).
type Setting struct {
	Key       string          `json:"key"`
	Value     string          `json:"value"`
	JSONValue json.RawMessage `json:"json_value,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// UpsertSetting создаёт или заменяет настройку. jsonValue=nil оставляет
// структурированную часть пустой.
func (d *DB) UpsertSetting(key, value string, jsonValue any) error {
	s := Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	if jsonValue != nil {
		raw, err := json.Marshal(jsonValue)
		if err != nil {
			return fmt.Errorf("encode setting %q json value: %w", key, err)
		}
		s.JSONValue = raw
	}
	encoded, err := json.Marshal(&s)
	if err != nil {
		return fmt.Errorf("encode setting %q: %w", key, err)
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(settingsBucket).Put([]byte(key), encoded)
	})
}

// FindSetting возвращает настройку или (nil, nil), если она не задана.
// Отсутствие настройки — штатная ситуация (например, force-sub не настроен),
// поэтому это не ошибка.
func (d *DB) FindSetting(key string) (*Setting, error) {
	var s *Setting
	err := d.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(settingsBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		s = new(Setting)
		if err := json.Unmarshal(raw, s); err != nil {
			return fmt.Errorf("decode setting %q: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SettingValue — удобный шорткат: строковое значение настройки либо пустая
// строка, если настройка не задана.
func (d *DB) SettingValue(key string) (string, error) {
	s, err := d.FindSetting(key)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return s.Value, nil
}

// ForceSubChannel возвращает юзернейм канала обязательной подписки; пустая
// строка выключает проверку.
func (d *DB) ForceSubChannel() (string, error) {
	return d.SettingValue(SettingForceSubChannel)
}

// DumpChannelID возвращает сырой идентификатор dump-канала; ok=false, когда
// зеркалирование выключено или значение испорчено.
func (d *DB) DumpChannelID() (int64, bool) {
	v, err := d.SettingValue(SettingDumpChannelID)
	if err != nil || v == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
