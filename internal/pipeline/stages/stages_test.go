package stages

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BlueBeard63/nids-deploy/internal/config"
	"github.com/BlueBeard63/nids-deploy/internal/logrotate"
	"github.com/BlueBeard63/nids-deploy/internal/pipeline"
	"github.com/BlueBeard63/nids-deploy/internal/proxy"
	"github.com/BlueBeard63/nids-deploy/internal/system"
	"github.com/BlueBeard63/nids-deploy/internal/system/systemtest"
)

func TestPermissionStage(t *testing.T) {
	tests := []struct {
		name    string
		euid    int
		wantErr bool
	}{
		{name: "root", euid: 0},
		{name: "regular user", euid: 1000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t)
			cfg := h.config(config.Options{})
			stage := NewPermissionStage(func() int { return tt.euid })

			err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000"))
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrPermission) {
				t.Errorf("Execute() error = %v, want ErrPermission", err)
			}
		})
	}
}

func TestDirectoryStage(t *testing.T) {
	h := newHost(t)
	cfg := h.config(config.Options{})
	state := h.newState(cfg, "20240501_120000")

	for i := 0; i < 2; i++ {
		if err := NewDirectoryStage().Execute(context.Background(), state); err != nil {
			t.Fatalf("Execute() run %d error = %v", i+1, err)
		}
	}

	for _, dir := range []string{cfg.DeployRoot, cfg.BackupRoot, filepath.Dir(cfg.LogFile)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	info, _ := os.Stat(cfg.BackupRoot)
	if info.Mode().Perm() != 0750 {
		t.Errorf("backup root mode = %v, want 0750", info.Mode().Perm())
	}
}

func TestDependencyStage_StopsAtFirstFailure(t *testing.T) {
	h := newHost(t)
	h.runner.Fail("apt-get install -y -qq certbot", "E: Unable to locate package certbot")
	cfg := h.config(config.Options{})

	err := NewDependencyStage(system.NewPackageManager(h.runner)).Execute(context.Background(), h.newState(cfg, "20240501_120000"))

	var installErr *system.InstallError
	if !errors.As(err, &installErr) || installErr.Package != "certbot" {
		t.Fatalf("Execute() error = %v, want InstallError for certbot", err)
	}
	if h.runner.Ran("apt-get install -y -qq python3-certbot-nginx") {
		t.Error("installation continued after a failure")
	}
	calls := h.runner.Calls()
	if len(calls) == 0 || calls[0] != "apt-get update -qq" {
		t.Errorf("calls = %v, want update first", calls)
	}
}

func TestFirewallStage(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		port       int
		wantAllow  []string
		wantEnable bool
	}{
		{
			name:       "inactive with custom port",
			status:     "Status: inactive\n",
			port:       8443,
			wantAllow:  []string{"ufw allow 22/tcp", "ufw allow 80/tcp", "ufw allow 443/tcp", "ufw allow 8443/tcp"},
			wantEnable: true,
		},
		{
			name:      "already active",
			status:    "Status: active\n\nTo Action From\n",
			wantAllow: []string{"ufw allow 22/tcp", "ufw allow 80/tcp", "ufw allow 443/tcp"},
		},
		{
			name:      "custom port already standard",
			status:    "Status: active\n",
			port:      443,
			wantAllow: []string{"ufw allow 22/tcp", "ufw allow 80/tcp", "ufw allow 443/tcp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t)
			runner := systemtest.NewRunner().On("ufw status", tt.status, nil)
			cfg := h.config(config.Options{Port: tt.port})

			if err := NewFirewallStage(system.NewFirewall(runner)).Execute(context.Background(), h.newState(cfg, "20240501_120000")); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			var allows []string
			enableAt, lastAllow := -1, -1
			for i, call := range runner.Calls() {
				if strings.HasPrefix(call, "ufw allow") {
					allows = append(allows, call)
					lastAllow = i
				}
				if call == "ufw --force enable" {
					enableAt = i
				}
			}
			if strings.Join(allows, ",") != strings.Join(tt.wantAllow, ",") {
				t.Errorf("allow rules = %v, want %v", allows, tt.wantAllow)
			}
			if (enableAt >= 0) != tt.wantEnable {
				t.Errorf("enabled = %v, want %v", enableAt >= 0, tt.wantEnable)
			}
			if tt.wantEnable && enableAt < lastAllow {
				t.Error("ufw enabled before the SSH rule was added")
			}
		})
	}
}

func TestFirewallStage_Skip(t *testing.T) {
	h := newHost(t)
	runner := systemtest.NewRunner()
	cfg := h.config(config.Options{SkipFirewall: true})

	err := NewFirewallStage(system.NewFirewall(runner)).Execute(context.Background(), h.newState(cfg, "20240501_120000"))
	if _, ok := pipeline.IsSkip(err); !ok {
		t.Fatalf("Execute() error = %v, want skip", err)
	}
	if len(runner.Calls()) != 0 {
		t.Errorf("ufw called while skipped: %v", runner.Calls())
	}
}

func TestDeploymentStage(t *testing.T) {
	h := newHost(t)
	os.MkdirAll(h.path("bundle/assets"), 0755)
	os.WriteFile(h.path("bundle/assets/app.js"), []byte("app"), 0644)
	h.settings.Bundle.Files = []string{"index.html", "assets"}
	cfg := h.config(config.Options{})
	state := h.newState(cfg, "20240501_120000")

	if err := NewDeploymentStage().Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !state.Committed {
		t.Error("deployment did not mark the run committed")
	}

	data, _ := os.ReadFile(filepath.Join(cfg.DeployRoot, "assets", "app.js"))
	if string(data) != "app" {
		t.Errorf("assets/app.js = %q", data)
	}

	modes := map[string]os.FileMode{
		cfg.DeployRoot:   0755,
		cfg.LogsDir():    0775,
		cfg.ExportsDir(): 0775,
		cfg.ConfigDir():  0750,
	}
	for dir, want := range modes {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("%s missing: %v", dir, err)
			continue
		}
		if info.Mode().Perm() != want {
			t.Errorf("%s mode = %v, want %v", dir, info.Mode().Perm(), want)
		}
	}
}

func TestDeploymentStage_WholeBundle(t *testing.T) {
	h := newHost(t)
	os.WriteFile(h.path("bundle/favicon.ico"), []byte("ico"), 0644)
	h.settings.Bundle.Files = nil
	cfg := h.config(config.Options{})

	if err := NewDeploymentStage().Execute(context.Background(), h.newState(cfg, "20240501_120000")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.DeployRoot, "favicon.ico")); err != nil {
		t.Errorf("favicon.ico not deployed: %v", err)
	}
}

func TestDeploymentStage_Overwrites(t *testing.T) {
	h := newHost(t)
	cfg := h.config(config.Options{})
	os.MkdirAll(cfg.DeployRoot, 0755)
	os.WriteFile(cfg.EntryPath(), []byte("old"), 0644)

	if err := NewDeploymentStage().Execute(context.Background(), h.newState(cfg, "20240501_120000")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	data, _ := os.ReadFile(cfg.EntryPath())
	if string(data) != "<html>v1</html>" {
		t.Errorf("entry = %q, want new bundle content", data)
	}
}

func TestDeploymentStage_RejectsBadSources(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{name: "missing file", files: []string{"index.html", "missing.css"}},
		{name: "escapes bundle", files: []string{"../outside"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t)
			h.settings.Bundle.Files = tt.files
			cfg := h.config(config.Options{})
			state := h.newState(cfg, "20240501_120000")

			if err := NewDeploymentStage().Execute(context.Background(), state); err == nil {
				t.Fatal("Execute() expected error")
			}
			if state.Committed {
				t.Error("run marked committed although nothing was copied")
			}
			if h.exists("var/www/nids/index.html") {
				t.Error("files were copied")
			}
		})
	}
}

func TestDeploymentStage_AssignsOwner(t *testing.T) {
	h := newHost(t)
	h.settings.Service.Account = "www-data"
	cfg := h.config(config.Options{})

	var chownRoot string
	var chownUID, chownGID int
	stage := NewDeploymentStage()
	stage.lookupUser = func(name string) (*user.User, error) {
		if name != "www-data" {
			return nil, user.UnknownUserError(name)
		}
		return &user.User{Username: name, Uid: "33", Gid: "33"}, nil
	}
	stage.chown = func(root string, uid, gid int) error {
		chownRoot, chownUID, chownGID = root, uid, gid
		return nil
	}

	if err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if chownRoot != cfg.DeployRoot || chownUID != 33 || chownGID != 33 {
		t.Errorf("chown(%s, %d, %d), want (%s, 33, 33)", chownRoot, chownUID, chownGID, cfg.DeployRoot)
	}
}

func TestSSLStage_Skips(t *testing.T) {
	tests := []struct {
		name string
		opts config.Options
	}{
		{name: "skip flag", opts: config.Options{Domain: "example.test", SkipSSL: true}},
		{name: "localhost", opts: config.Options{}},
		{name: "ip address", opts: config.Options{Domain: "10.0.0.5"}},
		{name: "localhost subdomain", opts: config.Options{Domain: "nids.localhost"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t)
			cfg := h.config(tt.opts)
			deps := h.dependencies(cfg)

			err := NewSSLStage(deps.ProxyManager, deps.SSLManager).Execute(context.Background(), h.newState(cfg, "20240501_120000"))
			if _, ok := pipeline.IsSkip(err); !ok {
				t.Fatalf("Execute() error = %v, want skip", err)
			}
			if len(h.runner.Calls()) != 0 {
				t.Errorf("commands ran: %v", h.runner.Calls())
			}
		})
	}
}

func TestSSLStage_CertbotFailure(t *testing.T) {
	h := newHost(t)
	h.runner.Fail("certbot", "DNS problem: NXDOMAIN looking up A for example.test")
	cfg := h.config(config.Options{Domain: "example.test"})
	deps := h.dependencies(cfg)

	err := NewSSLStage(deps.ProxyManager, deps.SSLManager).Execute(context.Background(), h.newState(cfg, "20240501_120000"))
	if err == nil || !strings.Contains(err.Error(), "NXDOMAIN") {
		t.Errorf("Execute() error = %v, want certbot failure", err)
	}
	if len(h.entries("etc/cron.d")) != 0 {
		t.Error("renewal scheduled without a certificate")
	}
}

func TestServiceStage(t *testing.T) {
	h := newHost(t)
	h.runner.Fail("systemctl is-active --quiet nids.service", "inactive")
	cfg := h.config(config.Options{})

	err := NewServiceStage(system.NewSystemd(h.runner, cfg.Host.SystemdDir)).Execute(context.Background(), h.newState(cfg, "20240501_120000"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	unit, err := os.ReadFile(filepath.Join(cfg.Host.SystemdDir, "nids.service"))
	if err != nil {
		t.Fatalf("unit not written: %v", err)
	}
	for _, want := range []string{
		"Requires=nginx.service",
		"After=network-online.target nginx.service",
		"Type=oneshot",
		"RemainAfterExit=yes",
		"ExecStart=/usr/bin/test -f " + cfg.EntryPath(),
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(string(unit), want) {
			t.Errorf("unit missing %q", want)
		}
	}

	want := []string{
		"systemctl daemon-reload",
		"systemctl enable nids.service",
		"systemctl is-active --quiet nids.service",
		"systemctl start nids.service",
	}
	if got := h.runner.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", got, want)
	}
}

func TestValidationStage(t *testing.T) {
	h := newHost(t)
	cfg := h.config(config.Options{})
	os.MkdirAll(cfg.DeployRoot, 0755)
	os.WriteFile(cfg.EntryPath(), []byte("ok"), 0644)

	stage := NewValidationStage(system.NewSystemd(h.runner, cfg.Host.SystemdDir), h.dependencies(cfg).Probe)
	if err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
}

func TestValidationStage_ReportsEveryFailure(t *testing.T) {
	h := newHost(t)
	h.runner.Fail("systemctl is-active --quiet nginx", "inactive")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()
	h.settings.Proxy.ProbeURL = server.URL
	cfg := h.config(config.Options{})

	check := &system.HTTPProbe{Client: server.Client(), Attempts: 2, Interval: time.Millisecond}
	stage := NewValidationStage(system.NewSystemd(h.runner, cfg.Host.SystemdDir), check)

	err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000"))

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("Execute() error = %v, want ValidationError", err)
	}
	if len(validationErr.Failures) != 3 {
		t.Errorf("failures = %v, want entry, nginx and HTTP check", validationErr.Failures)
	}
}

func TestProxyStage_CredentialsStoredBeforeEntry(t *testing.T) {
	h := newHost(t)
	cfg := h.config(config.Options{})
	os.MkdirAll(cfg.DeployRoot, 0755)
	// a file where the config directory belongs makes storing the password fail
	os.WriteFile(cfg.ConfigDir(), []byte("not a directory"), 0644)
	stage := NewProxyStage(h.dependencies(cfg).ProxyManager)

	if err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000")); err == nil {
		t.Fatal("Execute() succeeded without storing the credentials")
	}
	if h.exists("etc/nginx/.htpasswd-nids") {
		t.Fatal("htpasswd entry written although its password was lost")
	}

	os.Remove(cfg.ConfigDir())
	os.MkdirAll(cfg.ConfigDir(), 0750)
	if err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120500")); err != nil {
		t.Fatalf("Execute() retry error = %v", err)
	}

	creds, err := os.ReadFile(filepath.Join(cfg.ConfigDir(), CredentialsFile))
	if err != nil {
		t.Fatalf("credentials not stored: %v", err)
	}
	_, password, _ := strings.Cut(strings.TrimSpace(string(creds)), "password=")
	if ok, err := proxy.CheckHtpasswd(cfg.Proxy.HtpasswdFile, cfg.Proxy.HtpasswdUser, password); err != nil || !ok {
		t.Errorf("stored password does not open /logs/: %v, %v", ok, err)
	}
}

func TestLogRotationStage_RotatesAsServiceAccount(t *testing.T) {
	tests := []struct {
		name    string
		account string
		wantSu  string
	}{
		{name: "service account", account: "www-data", wantSu: "su www-data nids-web"},
		{name: "no service account", account: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHost(t)
			h.settings.Service.Account = tt.account
			cfg := h.config(config.Options{})

			stage := NewLogRotationStage(logrotate.NewWriter(cfg.Host.LogrotateDir, h.runner))
			stage.lookupUser = func(name string) (*user.User, error) {
				return &user.User{Username: name, Uid: "33", Gid: "1033"}, nil
			}
			stage.lookupGroup = func(gid string) (*user.Group, error) {
				if gid != "1033" {
					return nil, user.UnknownGroupIdError(gid)
				}
				return &user.Group{Gid: gid, Name: "nids-web"}, nil
			}

			if err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000")); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			policy, err := os.ReadFile(filepath.Join(cfg.Host.LogrotateDir, logrotate.PolicyName))
			if err != nil {
				t.Fatalf("policy not written: %v", err)
			}
			appBlock := filepath.Join(cfg.LogsDir(), "*.log") + " {\n"
			if tt.wantSu != "" {
				appBlock += "    " + tt.wantSu + "\n"
			} else if strings.Contains(string(policy), "    su ") {
				t.Errorf("su directive without a service account:\n%s", policy)
			}
			if !strings.Contains(string(policy), appBlock+"    daily\n") {
				t.Errorf("application block %q not found in:\n%s", appBlock, policy)
			}
		})
	}
}

func TestLogRotationStage_UnknownAccount(t *testing.T) {
	h := newHost(t)
	h.settings.Service.Account = "nids-missing"
	cfg := h.config(config.Options{})

	stage := NewLogRotationStage(logrotate.NewWriter(cfg.Host.LogrotateDir, h.runner))
	stage.lookupUser = func(name string) (*user.User, error) {
		return nil, user.UnknownUserError(name)
	}

	err := stage.Execute(context.Background(), h.newState(cfg, "20240501_120000"))
	if err == nil || !strings.Contains(err.Error(), "nids-missing") {
		t.Errorf("Execute() error = %v, want unknown account", err)
	}
	if h.runner.Ran("logrotate") {
		t.Error("policy checked although the owner is unknown")
	}
}
