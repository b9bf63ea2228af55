package main

// Provider blank imports — each import activates a self-registering delivery
// tool. Add new providers here as they are implemented.

import (
	_ "github.com/openrelief/responder/internal/adapter/logtool"
	_ "github.com/openrelief/responder/internal/adapter/mcptool"
	_ "github.com/openrelief/responder/internal/adapter/webhooktool"
)
