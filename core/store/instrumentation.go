package store

import "go.opentelemetry.io/contrib/bridges/otelslog"

const scopeName = "github.com/koscakluka/ema-datachat/core/store"

var logger = otelslog.NewLogger(scopeName)
