package logsvc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/studyboard/studyboard/core"
)

func TestRollbarLogger(t *testing.T) {
	var buf bytes.Buffer
	conf := &core.Config{Env: "TEST", Debug: true}
	std := NewConsoleLogger(conf)
	std.SetOutput(&buf)
	std.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})

	log := NewRollbarLogger(std, conf)
	log.Enable(false)

	tests := []struct {
		name string
		log  func()
		want []string
	}{
		{
			name: "fields",
			log: func() {
				log.Info("promotion finished", map[string]interface{}{"run_id": "r1", "inserted": 2})
			},
			want: []string{"level=info", `msg="promotion finished"`, "run_id=r1", "inserted=2"},
		},
		{
			name: "error",
			log:  func() { log.Error("close run", errors.New("conn reset")) },
			want: []string{"level=error", `error="conn reset"`},
		},
		{
			name: "debug",
			log:  func() { log.Debug("matched") },
			want: []string{"level=debug", "msg=matched"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
