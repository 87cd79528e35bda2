package adsync_test

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/adsync/internal/config"
)

func TestDockerfileExists(t *testing.T) {
	_, err := os.Stat("Dockerfile")
	if err != nil {
		t.Fatalf("Dockerfile should exist: %v", err)
	}
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	content := string(data)

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") && !strings.Contains(lastFrom, "alpine") && !strings.Contains(lastFrom, "scratch") {
		t.Errorf("final stage should use a minimal base image (distroless/alpine/scratch), got: %s", lastFrom)
	}
}

func TestDockerfileEntrypointAndHealthcheck(t *testing.T) {
	data, err := os.ReadFile("Dockerfile")
	if err != nil {
		t.Fatalf("failed to read Dockerfile: %v", err)
	}
	content := string(data)

	if !strings.Contains(content, "./cmd/adsync") {
		t.Error("Dockerfile should build ./cmd/adsync")
	}
	if !strings.Contains(content, "ENTRYPOINT") {
		t.Error("Dockerfile should contain ENTRYPOINT")
	}
	// distroless環境ではシェルがないためhealthcheckサブコマンドを使う
	if !strings.Contains(content, `"healthcheck"`) {
		t.Error("Dockerfile HEALTHCHECK should use the healthcheck subcommand")
	}
}

// composeFile はdocker-compose.ymlのうちテストで参照する部分。
type composeFile struct {
	Services map[string]struct {
		Image    string   `yaml:"image"`
		Command  []string `yaml:"command"`
		Networks []string `yaml:"networks"`
	} `yaml:"services"`
	Networks map[string]struct {
		Internal bool `yaml:"internal"`
	} `yaml:"networks"`
}

func loadCompose(t *testing.T) composeFile {
	t.Helper()
	data, err := os.ReadFile("docker-compose.yml")
	if err != nil {
		t.Fatalf("docker-compose.yml should exist: %v", err)
	}
	var compose composeFile
	if err := yaml.Unmarshal(data, &compose); err != nil {
		t.Fatalf("failed to parse docker-compose.yml: %v", err)
	}
	return compose
}

func TestDockerComposeServices(t *testing.T) {
	compose := loadCompose(t)

	// 2コンテナ構成: worker, db
	for _, name := range []string{"worker", "db"} {
		if _, ok := compose.Services[name]; !ok {
			t.Errorf("docker-compose.yml should contain service %q", name)
		}
	}
	if img := compose.Services["db"].Image; !strings.HasPrefix(img, "postgres:") {
		t.Errorf("db image = %q, want postgres", img)
	}
	if cmd := compose.Services["worker"].Command; len(cmd) == 0 || cmd[0] != "worker" {
		t.Errorf("worker command = %v, want [worker]", cmd)
	}
}

func TestDockerComposeNetworks(t *testing.T) {
	compose := loadCompose(t)

	// DBは内部ネットワークのみに接続すること
	if !compose.Networks["internal"].Internal {
		t.Error("docker-compose.yml should define an internal network (internal: true)")
	}
	for _, network := range compose.Services["db"].Networks {
		if network != "internal" {
			t.Errorf("db should only join the internal network, got %q", network)
		}
	}

	// ワーカーはLDAP/Gogsへ到達するため外部ネットワークにも接続すること
	joined := strings.Join(compose.Services["worker"].Networks, ",")
	if !strings.Contains(joined, "external") {
		t.Error("worker should join an external network to reach LDAP and Gogs")
	}
}

func TestMappingsExampleIsValid(t *testing.T) {
	f, err := os.Open("mappings.example.yaml")
	if err != nil {
		t.Fatalf("mappings.example.yaml should exist: %v", err)
	}
	defer f.Close()

	mappings, err := config.ParseMappingsYAML(f)
	if err != nil {
		t.Fatalf("mappings.example.yaml should parse: %v", err)
	}
	if len(mappings) == 0 {
		t.Fatal("mappings.example.yaml should contain at least one mapping")
	}
	for _, m := range mappings {
		if m.IsBlank() {
			t.Errorf("example mapping should not be blank: %+v", m)
		}
	}
}
