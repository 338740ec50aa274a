package store

import (
	"time"

	"github.com/amishk599/idlewatch/internal/model"
)

// NopWriter discards records. It is used by the check command so a trial run
// leaves no output behind and every item appears new next time.
type NopWriter struct{}

func NewNopWriter() *NopWriter { return &NopWriter{} }

func (w *NopWriter) Append(model.Record) error { return nil }

// NopHistory is a run history that remembers nothing.
type NopHistory struct{}

func (NopHistory) StartRun(string, string, string, time.Time) error            { return nil }
func (NopHistory) RecordAttempt(string, AttemptRow) error                      { return nil }
func (NopHistory) FinishRun(string, int, int, string, string, time.Time) error { return nil }
