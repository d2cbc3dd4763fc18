package directory

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Сигналы в канале обновления каталога
const (
	SignalRefresh = "refresh"
)

// Listen держит подписку на канал обновлений каталога и переподписывается при обрыве.
// На каждое успешное (пере)подключение каталог синхронизируется, потому что сигнал
// мог прийти, пока нас не было. Возвращается по отмене ctx.
func (d *Directory) Listen(ctx context.Context, rdb *redis.Client, channel string) {
	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			d.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}

		if _, err := d.Refresh(ctx); err != nil {
			d.logger.Error("sync failed on reconnect", zap.Error(err))
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				d.handleSignal(ctx, msg.Payload)
			}
		}

		_ = pubsub.Close()
		if !sleep(ctx, time.Second) {
			return
		}
	}
}

// handleSignal разбирает сообщение. Формат: "refresh" или "refresh:<источник>".
func (d *Directory) handleSignal(ctx context.Context, payload string) bool {
	kind, origin, _ := strings.Cut(strings.TrimSpace(payload), ":")
	if kind != SignalRefresh {
		d.logger.Error("invalid signal format", zap.String("payload", payload))
		return false
	}
	d.logger.Info("refresh signal", zap.String("origin", origin))
	if _, err := d.Refresh(ctx); err != nil {
		return false
	}
	return true
}

// Announce публикует сигнал обновления. Провайдер зовет его после старта.
func Announce(ctx context.Context, rdb *redis.Client, channel, origin string) error {
	payload := SignalRefresh
	if origin != "" {
		payload += ":" + origin
	}
	return rdb.Publish(ctx, channel, payload).Err()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
