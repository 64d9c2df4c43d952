// Package version хранит сведения о сборке, заполняемые через -ldflags:
//
//	-X github.com/vladislavdragonenkov/foodoms/internal/version.version=v1.2.0
package version

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

const unknown = "unknown"

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке. Незаданные через ldflags коммит и дата
// берутся из VCS-меток, которые go build вшивает в бинарник.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if b.Commit == "" || b.Date == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			b = b.withVCS(info.Settings)
		}
	}
	if b.Commit == "" {
		b.Commit = unknown
	}
	if b.Date == "" {
		b.Date = unknown
	}
	return b
}

func (b Build) withVCS(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch {
		case s.Key == "vcs.revision" && b.Commit == "":
			b.Commit = s.Value
		case s.Key == "vcs.time" && b.Date == "":
			b.Date = s.Value
		}
	}
	return b
}

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

func (b Build) String() string {
	return fmt.Sprintf("foodoms version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}

// Fields — поля для стартовой записи лога.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}
