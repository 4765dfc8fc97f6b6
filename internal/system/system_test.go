package system_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BlueBeard63/nids-deploy/internal/system"
	"github.com/BlueBeard63/nids-deploy/internal/system/systemtest"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "site.conf")

	if err := system.WriteFileAtomic(path, []byte("first"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := system.WriteFileAtomic(path, []byte("second"), 0600); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("content = %q, want second", data)
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp files left behind)", len(entries))
	}
}

func TestSymlinkAtomic_Replaces(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "enabled")

	if err := system.SymlinkAtomic("/first", link); err != nil {
		t.Fatalf("SymlinkAtomic() error = %v", err)
	}
	if err := system.SymlinkAtomic("/second", link); err != nil {
		t.Fatalf("SymlinkAtomic() error = %v", err)
	}

	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("Readlink() error = %v", err)
	}
	if target != "/second" {
		t.Errorf("link target = %s, want /second", target)
	}
}

func TestDirState(t *testing.T) {
	dir := t.TempDir()

	exists, empty, err := system.DirState(filepath.Join(dir, "missing"))
	if err != nil || exists || !empty {
		t.Errorf("missing dir: exists=%v empty=%v err=%v", exists, empty, err)
	}

	exists, empty, err = system.DirState(dir)
	if err != nil || !exists || !empty {
		t.Errorf("empty dir: exists=%v empty=%v err=%v", exists, empty, err)
	}

	os.WriteFile(filepath.Join(dir, "index.html"), []byte("x"), 0644)
	exists, empty, err = system.DirState(dir)
	if err != nil || !exists || empty {
		t.Errorf("populated dir: exists=%v empty=%v err=%v", exists, empty, err)
	}
}

func TestCopyTreeAndSize(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")

	os.MkdirAll(filepath.Join(src, "assets", "js"), 0755)
	os.WriteFile(filepath.Join(src, "index.html"), []byte("<html></html>"), 0644)
	os.WriteFile(filepath.Join(src, "assets", "js", "app.js"), []byte("console.log(1)"), 0640)

	if err := system.CopyTree(src, dst); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dst, "assets", "js", "app.js"))
	if err != nil || string(data) != "console.log(1)" {
		t.Errorf("copied app.js = %q, err = %v", data, err)
	}
	info, _ := os.Stat(filepath.Join(dst, "assets", "js", "app.js"))
	if info.Mode().Perm() != 0640 {
		t.Errorf("copied mode = %v, want 0640", info.Mode().Perm())
	}

	stats, err := system.Tree(dst)
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if stats.Files != 2 || stats.Dirs != 2 || stats.Bytes != int64(len("<html></html>")+len("console.log(1)")) {
		t.Errorf("Tree() = %+v", stats)
	}
}

func TestTree_ListsSymlinks(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "exports"), 0755)
	os.WriteFile(filepath.Join(root, "index.html"), []byte("ok"), 0644)
	os.Symlink("/srv/shared", filepath.Join(root, "exports", "shared"))

	stats, err := system.Tree(root)
	if err != nil {
		t.Fatalf("Tree() error = %v", err)
	}
	if stats.Files != 1 || stats.Dirs != 1 || stats.Bytes != 2 {
		t.Errorf("Tree() = %+v", stats)
	}
	if len(stats.Other) != 1 || stats.Other[0] != filepath.Join("exports", "shared") {
		t.Errorf("Other = %v, want the symlink", stats.Other)
	}
}

func TestCrontab_InstallReplaces(t *testing.T) {
	dir := t.TempDir()
	crontab := system.NewCrontab(dir)
	job := system.CronJob{Name: "nids-health-check", Schedule: "*/5 * * * *", Command: "/usr/local/bin/check.sh"}

	for i := 0; i < 3; i++ {
		if _, err := crontab.Install(job); err != nil {
			t.Fatalf("Install() error = %v", err)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("cron dir has %d files, want 1", len(entries))
	}

	data, _ := os.ReadFile(filepath.Join(dir, "nids-health-check"))
	if n := strings.Count(string(data), "/usr/local/bin/check.sh"); n != 1 {
		t.Errorf("job appears %d times, want 1", n)
	}
	if !strings.Contains(string(data), "*/5 * * * * root /usr/local/bin/check.sh\n") {
		t.Errorf("unexpected cron file:\n%s", data)
	}
}

func TestCrontab_RejectsBadName(t *testing.T) {
	crontab := system.NewCrontab(t.TempDir())
	if _, err := crontab.Install(system.CronJob{Name: "nids.renew", Schedule: "@daily", Command: "true"}); err == nil {
		t.Error("Install() expected error for name with a dot")
	}
}

func TestFirewall(t *testing.T) {
	ctx := context.Background()
	runner := systemtest.NewRunner().On("ufw status", "Status: inactive\n", nil)
	fw := system.NewFirewall(runner)

	active, err := fw.Active(ctx)
	if err != nil || active {
		t.Errorf("Active() = %v, %v; want false, nil", active, err)
	}
	if err := fw.Allow(ctx, 8443); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !runner.Ran("ufw allow 8443/tcp") {
		t.Errorf("calls = %v", runner.Calls())
	}
}

func TestPackageManager_InstallError(t *testing.T) {
	runner := systemtest.NewRunner().Fail("apt-get install -y -qq certbot", "E: Unable to locate package")
	pm := system.NewPackageManager(runner)

	err := pm.Install(context.Background(), "certbot")

	var installErr *system.InstallError
	if !errors.As(err, &installErr) || installErr.Package != "certbot" {
		t.Fatalf("Install() error = %v, want InstallError for certbot", err)
	}
	if !strings.Contains(err.Error(), "Unable to locate package") {
		t.Errorf("error does not carry command output: %v", err)
	}
}

func TestHTTPCheck_RetriesUntilReady(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Host != "example.test" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	check := &system.HTTPProbe{Client: server.Client(), Attempts: 5, Interval: time.Millisecond}
	if err := check.Check(context.Background(), server.URL, "example.test"); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Errorf("server hit %d times, want 3", hits)
	}
}

func TestHTTPCheck_Redirects(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		location func(r *http.Request) string
		wantErr  bool
	}{
		{
			name:     "https on the same host",
			host:     "example.invalid",
			location: func(r *http.Request) string { return "https://" + r.Host + r.URL.Path },
		},
		{
			name:     "https on the same host with port",
			host:     "example.invalid",
			location: func(r *http.Request) string { return "https://" + r.Host + ":443/" },
		},
		{
			name:     "another host",
			host:     "example.invalid",
			location: func(r *http.Request) string { return "https://elsewhere.invalid/" },
			wantErr:  true,
		},
		{
			name:     "plain http",
			host:     "example.invalid",
			location: func(r *http.Request) string { return "http://" + r.Host + "/login" },
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				http.Redirect(w, r, tt.location(r), http.StatusMovedPermanently)
			}))
			defer server.Close()

			check := &system.HTTPProbe{Client: server.Client(), Attempts: 3, Interval: time.Millisecond}
			err := check.Check(context.Background(), server.URL, tt.host)
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && strings.Contains(err.Error(), "no such host") {
				t.Errorf("Check() left the host: %v", err)
			}
			if atomic.LoadInt32(&hits) != 1 {
				t.Errorf("server hit %d times, want 1", hits)
			}
		})
	}
}

func TestHTTPCheck_GivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	check := &system.HTTPProbe{Client: server.Client(), Attempts: 2, Interval: time.Millisecond}
	err := check.Check(context.Background(), server.URL, "")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("Check() error = %v, want 500 failure", err)
	}
}
