package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/ignatzorin/freelance-contracts/internal/logger"
)

// SafeGo запускает горутину с обработкой panic. Используется для
// фоновых задач, сбой которых не должен ронять процесс: доставка
// уведомлений, пост-обработка платежей.
func SafeGo(fn func()) {
	go func() {
		defer recoverPanic()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer recoverPanic()
		fn(ctx)
	}()
}

func recoverPanic() {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("goroutine: перехвачен panic в фоновой задаче")
	}
}
