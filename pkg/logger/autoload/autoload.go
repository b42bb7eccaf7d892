// Package autoload initializes the global logger from environment
// configuration as a side effect of being imported.
package autoload

import (
	configx "github.com/pattarawat/steward/pkg/config"
	logx "github.com/pattarawat/steward/pkg/logger"
)

func init() {
	logx.Init(*configx.MustNew[logx.Config]("LOG"))
}
