package analytics

import (
	"os"

	"github.com/mohitkumar/agentflow/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordEvent(event model.FlowEvent) {
	lc.logger.Info("event",
		zap.Int64("id", event.Id),
		zap.String("sessionId", event.SessionId),
		zap.String("type", string(event.EventType)),
		zap.String("status", event.Status),
		zap.Int("promptTokens", event.PromptTokens),
		zap.Int("completionTokens", event.CompletionTokens),
		zap.Float64("cost", event.Cost),
		zap.Any("payload", event.Payload))
}

func (lc *LogFileDataCollector) RecordJob(job model.FlowJob) {
	lc.logger.Info("job",
		zap.String("id", job.Id),
		zap.String("sessionId", job.SessionId),
		zap.String("stepExecutionId", job.StepExecutionId),
		zap.String("status", string(job.Status)),
		zap.String("lockedBy", job.LockedBy),
		zap.String("error", job.Error))
}

func (lc *LogFileDataCollector) Sync() error {
	return lc.logger.Sync()
}
