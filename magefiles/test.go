//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets.
type Test mg.Namespace

// All runs every package's tests.
func (Test) All() error {
	return sh.RunV(binGo, "test", "./...")
}

// Race runs every package's tests with the race detector. The concurrency
// suites (txn, lobby, ledger, progression) are the ones that matter here.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "-count=1", "./...")
}

// Cover runs every package's tests and writes coverage.out.
func (Test) Cover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile=coverage.out", "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func=coverage.out")
}

// Redis runs the notify tests against a live Redis at localhost:6379.
func (Test) Redis() error {
	env := map[string]string{"QUESTBOOK_TEST_REDIS_ADDR": "localhost:6379"}
	return sh.RunWithV(env, binGo, "test", "-count=1", "./internal/notify/...")
}
