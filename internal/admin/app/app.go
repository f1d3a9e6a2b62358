package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/notepid/twilight_pm/internal/cache"
	"github.com/notepid/twilight_pm/internal/config"
	"github.com/notepid/twilight_pm/internal/db"
	"github.com/notepid/twilight_pm/internal/notify"
	"github.com/notepid/twilight_pm/internal/pm"
	"github.com/notepid/twilight_pm/internal/user"
)

type App struct {
	ConfigPath string
	Config     *config.Config
	DBPath     string
	DB         *db.DB

	Members  *user.Repo
	Cache    *cache.Cache
	Notifier pm.Notifier
	PM       *pm.Service

	BusyTimeout time.Duration
}

// Options maps the configuration onto messaging service options.
func Options(cfg *config.Config) pm.Options {
	opts := pm.DefaultOptions()
	opts.LabelCacheTTL = cfg.PM.LabelCacheTTL.Duration()
	opts.LimitCacheTTL = cfg.PM.LimitCacheTTL.Duration()
	opts.MaxLabelSetLen = cfg.PM.MaxLabelSetLen
	opts.MaxSubjectLen = cfg.PM.MaxSubjectLen
	opts.MaxBodyLen = cfg.PM.MaxBodyLen
	opts.SearchPerPage = cfg.PM.SearchPerPage
	opts.SiteURL = cfg.Mail.SiteURL
	opts.DefaultLanguage = cfg.Mail.DefaultLanguage
	return opts
}

func New(configPath string) (*App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Paths.Data, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}
	if dir := filepath.Dir(cfg.Paths.Database); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	database, err := db.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := notify.New(cfg.Mail)
	if err != nil {
		_ = database.Close()
		return nil, nil, err
	}

	members := user.NewRepo(database.DB)
	c := cache.New()

	a := &App{
		ConfigPath:  configPath,
		Config:      cfg,
		DBPath:      cfg.Paths.Database,
		DB:          database,
		Members:     members,
		Cache:       c,
		Notifier:    notifier,
		PM:          pm.NewService(database.DB, members, database, c, notifier, Options(cfg)),
		BusyTimeout: db.BusyTimeout,
	}

	cleanup := func() {
		_ = database.Close()
	}

	return a, cleanup, nil
}

// Actor loads the messaging actor for a member name.
func (a *App) Actor(name string) (pm.Actor, *user.Member, error) {
	m, err := a.Members.GetByName(name)
	if err != nil {
		return pm.Actor{}, nil, err
	}
	settings, err := a.DB.GetSiteSettings()
	if err != nil {
		return pm.Actor{}, nil, err
	}
	actor, err := a.Members.LoadActor(m.ID, settings.PermissionEnableDeny)
	if err != nil {
		return pm.Actor{}, nil, err
	}
	return actor, m, nil
}
