package errprocess

import (
	"errors"
	"fmt"

	"chat_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// Set set err info
func Set(errMsg string, fields ...zap.Field) error {
	logger.Log.Error(errMsg, fields...)
	return errors.New(errMsg)
}

// Wrap 記錄錯誤並包裝, 保留原始 err 以便 errors.Is 判斷
func Wrap(err error, msg string, fields ...zap.Field) error {
	if err == nil {
		return nil
	}
	logger.Log.Error(msg, append(fields, zap.Error(err))...)
	return fmt.Errorf("%s: %w", msg, err)
}
