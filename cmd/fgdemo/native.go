//go:build !nogpu

package main

import "github.com/gogpu/framegraph/backend/native"

func init() {
	loggerHooks = append(loggerHooks, native.SetLogger)
}
