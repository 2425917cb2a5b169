//go:build gocv

package main

import _ "github.com/teslashibe/go-idmcam/pkg/frame/webcam"
