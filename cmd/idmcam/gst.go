//go:build gst

package main

import _ "github.com/teslashibe/go-idmcam/pkg/frame/gst"
