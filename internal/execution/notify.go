package execution

import (
	"context"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is the single user-facing message emitted per execution.
type Notification struct {
	Key     ActionKey `json:"key"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	TxHash  string    `json:"tx_hash,omitempty"`
}

type Notifier interface {
	Notify(n Notification)
}

// LogNotifier writes notifications as structured log entries.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n LogNotifier) Notify(msg Notification) {
	logger := n.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	entry := logger.WithFields(logrus.Fields{
		"action_key": msg.Key.String(),
		"strategy":   msg.Key.StrategyID,
		"action":     msg.Key.ActionID,
	})
	if msg.TxHash != "" {
		entry = entry.WithField("tx_hash", msg.TxHash)
	}
	if msg.Level == LevelError {
		entry.Warnf("%s: %s", msg.Title, msg.Message)
		return
	}
	entry.Infof("%s: %s", msg.Title, msg.Message)
}

// Record is what the activity journal keeps for each terminal result.
type Record struct {
	Key                ActionKey      `json:"key"`
	StrategyName       string         `json:"strategy_name"`
	ActionName         string         `json:"action_name"`
	SourceChainID      int64          `json:"source_chain_id"`
	DestinationChainID int64          `json:"destination_chain_id"`
	From               string         `json:"from"`
	Result             FunctionResult `json:"result"`
}

// Recorder persists terminal results outside the session.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}
