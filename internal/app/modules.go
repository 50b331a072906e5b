package app

import (
	"github.com/vk/flowline/internal/registry"
	"github.com/vk/flowline/modules/echo"
	"github.com/vk/flowline/modules/env_vars"
	"github.com/vk/flowline/modules/http_request"
	"github.com/vk/flowline/modules/sleep"
)

// coreModules is the definitive list of all action modules that are
// compiled into the flowline binary.
var coreModules = []registry.Module{
	&echo.Module{},
	&env_vars.Module{},
	&http_request.Module{},
	&sleep.Module{},
}
