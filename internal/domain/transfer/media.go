// Классификация сообщений источника. Telegram хранит видео, аудио и файлы
// единым типом document с набором атрибутов, поэтому видов всего три: текст,
// фото и документ. Служебные сообщения и пустые заглушки в передачу не идут.

package transfer

import (
	"fmt"

	"github.com/gotd/td/tg"
)

// Kind — вид элемента передачи.
type Kind int

const (
	KindText Kind = iota
	KindPhoto
	KindDocument
)

// Item — один элемент передачи: сообщение источника с размеченным медиа.
type Item struct {
	Kind     Kind
	MsgID    int
	Caption  string
	Photo    *tg.Photo
	Document *tg.Document
}

// Classify размечает сообщение источника. ok=false для сообщений, которые
// нечего передавать (сервисные, пустые, неподдерживаемое медиа без текста).
func Classify(msg *tg.Message) (Item, bool) {
	item := Item{Kind: KindText, MsgID: msg.ID, Caption: msg.Message}

	switch media := msg.Media.(type) {
	case nil, *tg.MessageMediaEmpty, *tg.MessageMediaWebPage:
		if msg.Message == "" {
			return Item{}, false
		}
		return item, true

	case *tg.MessageMediaPhoto:
		photo, ok := media.Photo.(*tg.Photo)
		if !ok {
			return Item{}, false
		}
		item.Kind = KindPhoto
		item.Photo = photo
		return item, true

	case *tg.MessageMediaDocument:
		doc, ok := media.Document.(*tg.Document)
		if !ok {
			return Item{}, false
		}
		item.Kind = KindDocument
		item.Document = doc
		return item, true

	default:
		if msg.Message == "" {
			return Item{}, false
		}
		return item, true
	}
}

// Size возвращает размер медиа в байтах; для текста ноль.
func (i Item) Size() int64 {
	switch i.Kind {
	case KindDocument:
		return i.Document.Size
	case KindPhoto:
		_, _, size := largestPhotoSize(i.Photo)
		return int64(size)
	default:
		return 0
	}
}

// Filename подбирает имя файла для выгрузки: атрибут документа либо
// синтетическое имя по идентификатору.
func (i Item) Filename() string {
	if i.Kind == KindDocument {
		for _, attr := range i.Document.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok && fn.FileName != "" {
				return fn.FileName
			}
		}
		return fmt.Sprintf("document_%d", i.Document.ID)
	}
	if i.Kind == KindPhoto {
		return fmt.Sprintf("photo_%d.jpg", i.Photo.ID)
	}
	return fmt.Sprintf("message_%d.txt", i.MsgID)
}

// Location возвращает локацию для скачивания; nil для текста.
func (i Item) Location() tg.InputFileLocationClass {
	switch i.Kind {
	case KindDocument:
		return i.Document.AsInputDocumentFileLocation()
	case KindPhoto:
		thumb, _, _ := largestPhotoSize(i.Photo)
		return &tg.InputPhotoFileLocation{
			ID:            i.Photo.ID,
			AccessHash:    i.Photo.AccessHash,
			FileReference: i.Photo.FileReference,
			ThumbSize:     thumb,
		}
	default:
		return nil
	}
}

// largestPhotoSize выбирает самый крупный вариант фото: тип превью, ширину и
// байтовый размер.
func largestPhotoSize(photo *tg.Photo) (thumbType string, width, size int) {
	if photo == nil {
		return "", 0, 0
	}
	for _, s := range photo.Sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			if v.W >= width {
				thumbType, width, size = v.Type, v.W, v.Size
			}
		case *tg.PhotoSizeProgressive:
			if v.W >= width {
				max := 0
				for _, n := range v.Sizes {
					if n > max {
						max = n
					}
				}
				thumbType, width, size = v.Type, v.W, max
			}
		}
	}
	return thumbType, width, size
}
