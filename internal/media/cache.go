// Файл: internal/media/cache.go
package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flowbot/internal/logger"
	"flowbot/internal/models"
)

// ErrInvalidPath возвращается для путей, выходящих за пределы корня кэша.
var ErrInvalidPath = errors.New("недопустимый путь к медиафайлу")

// Category - подкаталог кэша.
type Category string

const (
	CategoryImage      Category = "image"
	CategoryVideo      Category = "video"
	CategoryRoundVideo Category = "video_note"
	CategoryDocument   Category = "document"
)

// Categories - все известные подкаталоги кэша.
var Categories = []Category{CategoryImage, CategoryVideo, CategoryRoundVideo, CategoryDocument}

// Ext возвращает каноническое расширение файлов категории.
func (c Category) Ext() string {
	switch c {
	case CategoryImage:
		return ".jpg"
	case CategoryVideo, CategoryRoundVideo:
		return ".mp4"
	case CategoryDocument:
		return ".pdf"
	default:
		return ".bin"
	}
}

// ParseCategory проверяет имя категории.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// CategoryFor возвращает категорию кэша для типа шага.
func CategoryFor(t models.StepType) Category {
	switch t {
	case models.StepImage:
		return CategoryImage
	case models.StepVideo:
		return CategoryVideo
	case models.StepRoundVideo:
		return CategoryRoundVideo
	default:
		return CategoryDocument
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_\-]`)

// SanitizeName оставляет в идентификаторе файла только безопасные символы.
func SanitizeName(id string) string {
	name := unsafeName.ReplaceAllString(id, "_")
	if name == "" {
		name = uuid.NewString()
	}
	return name
}

// Cache - локальный файловый кэш медиа, разбитый по категориям.
// Все пути, которые он возвращает и принимает, относительны корня.
type Cache struct {
	root string
}

// NewCache создает каталоги кэша под root.
func NewCache(root string) (*Cache, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения корня медиа '%s': %w", root, err)
	}
	for _, c := range Categories {
		if err := os.MkdirAll(filepath.Join(abs, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("ошибка создания каталога %s: %w", c, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(abs, ".tmp"), 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания временного каталога: %w", err)
	}
	logger.Info("Медиакэш готов.", zap.String("root", abs))
	return &Cache{root: abs}, nil
}

// Root возвращает абсолютный путь корня кэша.
func (c *Cache) Root() string {
	return c.root
}

// PathFor возвращает относительный путь файла в кэше, например "video_note/<id>.mp4".
func (c *Cache) PathFor(cat Category, fileID string) string {
	return string(cat) + "/" + SanitizeName(fileID) + cat.Ext()
}

// Abs переводит относительный путь в абсолютный, не давая выйти за корень.
func (c *Cache) Abs(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) || strings.Contains(rel, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	full := filepath.Join(c.root, filepath.FromSlash(rel))
	within, err := filepath.Rel(c.root, full)
	if err != nil || within == "." || strings.HasPrefix(within, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return full, nil
}

// Save сохраняет данные под идентификатором файла и возвращает относительный путь.
func (c *Cache) Save(cat Category, fileID string, data []byte) (string, error) {
	rel := c.PathFor(cat, fileID)
	if err := c.Overwrite(rel, data); err != nil {
		return "", err
	}
	return rel, nil
}

// TempFilePrefix - префикс незавершенных записей Overwrite. Такие файлы наружу не отдаются.
const TempFilePrefix = ".part-"

// IsHidden сообщает, что файл служебный: временная запись или скрытый файл.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Overwrite атомарно заменяет содержимое файла: запись во временный файл и rename.
func (c *Cache) Overwrite(rel string, data []byte) error {
	full, err := c.Abs(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("ошибка создания каталога для %s: %w", rel, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("ошибка записи %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ошибка закрытия %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("ошибка замены %s: %w", rel, err)
	}
	logger.Debug("Файл записан в медиакэш.", zap.String("path", rel), zap.Int("bytes", len(data)))
	return nil
}

// Read читает файл из кэша.
func (c *Cache) Read(rel string) ([]byte, error) {
	full, err := c.Abs(rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Exists сообщает, есть ли файл в кэше.
func (c *Cache) Exists(rel string) bool {
	full, err := c.Abs(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(full)
	return err == nil && !info.IsDir()
}

// ScratchFile создает уникальный временный файл с расширением ext и возвращает его путь.
// Удаление лежит на вызывающей стороне.
func (c *Cache) ScratchFile(ext string, data []byte) (string, error) {
	name := filepath.Join(c.root, ".tmp", uuid.NewString()+ext)
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return "", fmt.Errorf("ошибка записи временного файла: %w", err)
	}
	return name, nil
}
