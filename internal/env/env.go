package env

import (
	"github.com/thatsimonsguy/bms-acquisition/internal/config"
)

var Cfg *config.Config
