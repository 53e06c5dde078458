package storage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
)

// DeliverableStorage отвечает за файловое хранилище результатов работы
// по этапам: архивы, изображения, документы.
type DeliverableStorage struct {
	rootPath       string
	maxUploadBytes int64
}

// NewDeliverableStorage создаёт файловое хранилище.
func NewDeliverableStorage(rootPath string, maxUploadMB int64) (*DeliverableStorage, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: не удалось создать каталог %s: %w", rootPath, err)
	}

	return &DeliverableStorage{
		rootPath:       rootPath,
		maxUploadBytes: maxUploadMB * 1024 * 1024,
	}, nil
}

// Save проверяет тип файла по содержимому, сохраняет его и возвращает
// относительный путь, размер и определённый MIME тип.
func (s *DeliverableStorage) Save(ctx context.Context, milestoneID uuid.UUID, originalName string, r io.Reader) (string, int64, string, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, "", err
	}

	buffered := bufio.NewReader(r)
	head, err := buffered.Peek(261)
	if err != nil && err != io.EOF {
		return "", 0, "", fmt.Errorf("storage: не удалось прочитать заголовок файла: %w", err)
	}

	kind, err := detectType(head)
	if err != nil {
		return "", 0, "", err
	}

	safeName := sanitizeFilename(originalName)
	fileName := fmt.Sprintf("%d%s", time.Now().UnixNano(), filepath.Ext(safeName))

	milestoneDir := filepath.Join(s.rootPath, milestoneID.String())
	if err := os.MkdirAll(milestoneDir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("storage: не удалось создать каталог этапа: %w", err)
	}

	targetPath := filepath.Join(milestoneDir, fileName)
	tempPath := targetPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("storage: не удалось создать файл: %w", err)
	}
	defer f.Close()

	limitedReader := io.LimitedReader{R: buffered, N: s.maxUploadBytes + 1}
	written, err := io.Copy(f, &limitedReader)
	if err != nil {
		_ = os.Remove(tempPath)
		return "", 0, "", fmt.Errorf("storage: ошибка записи файла: %w", err)
	}

	if written > s.maxUploadBytes {
		_ = os.Remove(tempPath)
		return "", 0, "", fmt.Errorf("storage: размер файла превышает лимит %d байт", s.maxUploadBytes)
	}

	if err := f.Close(); err != nil {
		return "", 0, "", fmt.Errorf("storage: ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", 0, "", fmt.Errorf("storage: не удалось переименовать файл: %w", err)
	}

	mimeType := kind.MIME.Value
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	relative := filepath.Join(milestoneID.String(), fileName)
	return relative, written, mimeType, nil
}

// AbsolutePath возвращает абсолютный путь к файлу хранилища.
func (s *DeliverableStorage) AbsolutePath(relativePath string) string {
	return filepath.Join(s.rootPath, relativePath)
}

// Delete удаляет файл из хранилища.
func (s *DeliverableStorage) Delete(ctx context.Context, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := filepath.Join(s.rootPath, relativePath)
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: не удалось удалить файл: %w", err)
	}
	return nil
}

// detectType определяет тип файла по magic-байтам и отклоняет
// исполняемые файлы. Тип проверяется по содержимому, а не по расширению.
func detectType(head []byte) (types.Type, error) {
	kind, err := filetype.Match(head)
	if err != nil {
		return types.Unknown, fmt.Errorf("storage: не удалось определить тип файла: %w", err)
	}

	if kind == types.Unknown {
		// Текстовые форматы (код, markdown) не имеют magic-байтов.
		return types.Unknown, nil
	}

	switch kind.MIME.Type {
	case "image", "video", "audio":
		return kind, nil
	}

	switch kind.MIME.Value {
	case "application/zip", "application/gzip", "application/x-tar",
		"application/pdf", "application/x-7z-compressed", "application/x-rar-compressed":
		return kind, nil
	}

	return types.Unknown, fmt.Errorf("storage: тип файла %s не поддерживается", kind.MIME.Value)
}

// sanitizeFilename удаляет потенциально опасные символы.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "deliverable"
	}
	return name
}
