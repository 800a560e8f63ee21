//go:build !windows

package main

func isRunningAsService() bool { return false }

func runAsService() {}
