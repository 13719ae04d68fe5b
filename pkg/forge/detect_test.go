package forge

import (
	"slices"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		log    string
		want   LogEvent
		lines  []string
	}{
		{name: "nothing", status: StatusCloudInit, log: "running modules\n", want: LogNothing},
		{name: "done", status: StatusCloudInit, log: "x\ncloud-init boot finished\n", want: LogDone},
		{name: "done wins over critical", status: StatusCloudInit, log: "[CRITICAL] boom\ncloud-init boot finished\n", want: LogDone},
		{
			name: "critical lines", status: StatusCloudInit,
			log:  "ok\n[CRITICAL] puppet failed\nok\n[CRITICAL] no repo\n",
			want: LogCritical, lines: []string{"[CRITICAL] puppet failed", "[CRITICAL] no repo"},
		},
		{name: "nonet in cloud_init", status: StatusCloudInit, log: "cloud-init-nonet gave up waiting for a network device\n", want: LogNoNet},
		{name: "nonet ignored out of cloud_init", status: StatusAssignIP, log: "cloud-init-nonet gave up waiting for a network device\n", want: LogNothing},
		{name: "nonet boot", status: StatusNoNet, log: "Booting system without full network configuration\n", want: LogNoNetBoot},
		{name: "nonet boot needs nonet", status: StatusCloudInit, log: "Booting system without full network configuration\n", want: LogNothing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, lines := Classify(tt.status, tt.log)
			if got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
			if !slices.Equal(lines, tt.lines) {
				t.Errorf("lines = %q, want %q", lines, tt.lines)
			}
		})
	}
}

func TestBoxRequests(t *testing.T) {
	waiting := func(line string) string {
		return "a\n" + line + "\nb\nc\nd\n"
	}

	if !CARootRequested(waiting("forj-cli: ca-root-cert=/tmp/ca.crt")) {
		t.Error("CARootRequested() = false on a waiting box")
	}
	if CARootRequested("forj-cli: ca-root-cert=/tmp/ca.crt\n") {
		t.Error("CARootRequested() = true on a request not on the waiting line")
	}

	req, ok := LorjRequested(waiting("forj-cli: lorj_tmp_file=/tmp/data lorj_tmp_key=/tmp/key flag_file=/tmp/flag"))
	if !ok {
		t.Fatal("LorjRequested() = false on a waiting box")
	}
	want := LorjRequest{DataFile: "/tmp/data", KeyFile: "/tmp/key", FlagFile: "/tmp/flag"}
	if req != want {
		t.Errorf("LorjRequested() = %+v, want %+v", req, want)
	}
	if _, ok := LorjRequested("short\n"); ok {
		t.Error("LorjRequested() = true on a short log")
	}
}
