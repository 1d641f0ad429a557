package loggingx_test

import (
	"github.com/dogmatiq/dodeca/logging"
	. "github.com/dogmatiq/ledger/internal/x/loggingx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ = Describe("func WithPrefix()", func() {
	It("adds the prefix to each message", func() {
		target := &logging.BufferedLogger{CaptureDebug: true}
		logger := WithPrefix(target, "[%s] ", "100%")

		logger.Log("<value %d>", 1)
		logger.LogString("<string>")
		logger.Debug("<debug %d>", 2)
		logger.DebugString("<debug string>")

		Expect(target.Messages()).To(Equal([]logging.BufferedLogMessage{
			{Message: "[100%] <value 1>"},
			{Message: "[100%] <string>"},
			{Message: "[100%] <debug 2>", IsDebug: true},
			{Message: "[100%] <debug string>", IsDebug: true},
		}))
	})
})

var _ = Describe("type Zap", func() {
	It("writes to the zap logger", func() {
		core, logs := observer.New(zapcore.InfoLevel)
		logger := Zap{Target: zap.New(core)}

		logger.Log("<value %d>", 1)
		logger.Debug("<debug>")

		Expect(logger.IsDebug()).To(BeFalse())
		Expect(logs.Len()).To(Equal(1))
		Expect(logs.All()[0].Message).To(Equal("<value 1>"))
	})
})
