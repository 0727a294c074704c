package main

import (
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"

	"printcal/internal/config"
)

func TestApplyFlagsOutputForcesFile(t *testing.T) {
	conf := &config.Config{Delivery: config.DeliveryConfig{PrinterEmail: "printer@example.com"}}
	conf.Normalize()
	assert.Equal(t, config.MethodEmail, conf.Delivery.Method)

	applyFlags(conf, flagConfig{output: "/tmp/today.pdf"})

	assert.Equal(t, config.MethodFile, conf.Delivery.Method)
	assert.Equal(t, "/tmp/today.pdf", conf.Delivery.OutputPath)
}

func TestApplyFlagsFormatRenamesDefaultOutput(t *testing.T) {
	conf := config.DefaultConfig()
	assert.Equal(t, "agenda-{date}.pdf", conf.Delivery.OutputPath)

	applyFlags(conf, flagConfig{format: "HTML", listen: ":9090"})

	assert.Equal(t, config.FormatHTML, conf.Render.Format)
	assert.Equal(t, "agenda-{date}.html", conf.Delivery.OutputPath)
	assert.Equal(t, ":9090", conf.Listen)
}

func TestApplyFlagsKeepsCustomOutput(t *testing.T) {
	conf := &config.Config{Delivery: config.DeliveryConfig{OutputPath: "/srv/print/today.out"}}
	conf.Normalize()

	applyFlags(conf, flagConfig{format: "html"})

	assert.Equal(t, "/srv/print/today.out", conf.Delivery.OutputPath)
}

func TestFatalExitCode(t *testing.T) {
	assert.Equal(t, 1, fatal("boom", errors.New("x")))
	assert.Equal(t, 1, fatal("missing", config.ErrConfigurationMissing))
}

func TestCronLoggerSatisfiesInterface(t *testing.T) {
	var _ cron.Logger = cronLogger{}
}
