package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"entitysync/client"
)

const SyncCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Entity sync control.

Values not given as options are read from the config file and from
SYNCCTL_* environment variables (a .env file in the working directory
is loaded first).

Usage:
    syncctl login [--config=<config>] [--api_url=<api_url>]
        --user_auth=<user_auth>
    syncctl list <entity> [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]
        [--page=<page>]
        [--per_page=<per_page>]
        [--search=<search>]
        [--sort=<sort>]
        [--all_pages]
    syncctl watch [--config=<config>] [--api_url=<api_url>]
        [--channel_url=<channel_url>] [--jwt=<jwt>]
        [--snapshot=<snapshot>]
        [<topic>...]
    syncctl snapshot [--config=<config>] [--api_url=<api_url>] [--jwt=<jwt>]
        --snapshot=<snapshot> <entity>...

Options:
    -h --help                    Show this screen.
    --version                    Show version.
    --config=<config>            Yaml config path.
    --api_url=<api_url>
    --channel_url=<channel_url>
    --jwt=<jwt>                  Session JWT.
    --user_auth=<user_auth>      Email or phone number.
    --page=<page>
    --per_page=<per_page>
    --search=<search>
    --sort=<sort>
    --all_pages                  Project all cached pages, not just the current one.
    --snapshot=<snapshot>        Entity snapshot path.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], SyncCtlVersion)
	if err != nil {
		panic(err)
	}

	if login_, _ := opts.Bool("login"); login_ {
		login(opts)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	} else if snapshot_, _ := opts.Bool("snapshot"); snapshot_ {
		snapshot(opts)
	}
}

type Config struct {
	ApiUrl     string `yaml:"api_url"`
	ChannelUrl string `yaml:"channel_url"`
	Jwt        string `yaml:"jwt"`
	Snapshot   string `yaml:"snapshot"`
}

// option > environment > config file
func loadConfig(opts docopt.Opts) *Config {
	godotenv.Load()

	config := &Config{}
	if configPath, err := opts.String("--config"); err == nil && configPath != "" {
		configBytes, err := os.ReadFile(configPath)
		if err != nil {
			Err.Fatalf("read config: %s", err)
		}
		if err := yaml.Unmarshal(configBytes, config); err != nil {
			Err.Fatalf("parse config: %s", err)
		}
	}

	if apiUrl := os.Getenv("SYNCCTL_API_URL"); apiUrl != "" {
		config.ApiUrl = apiUrl
	}
	if channelUrl := os.Getenv("SYNCCTL_CHANNEL_URL"); channelUrl != "" {
		config.ChannelUrl = channelUrl
	}
	if jwt := os.Getenv("SYNCCTL_JWT"); jwt != "" {
		config.Jwt = jwt
	}
	if snapshotPath := os.Getenv("SYNCCTL_SNAPSHOT"); snapshotPath != "" {
		config.Snapshot = snapshotPath
	}

	if apiUrl, err := opts.String("--api_url"); err == nil && apiUrl != "" {
		config.ApiUrl = apiUrl
	}
	if channelUrl, err := opts.String("--channel_url"); err == nil && channelUrl != "" {
		config.ChannelUrl = channelUrl
	}
	if jwt, err := opts.String("--jwt"); err == nil && jwt != "" {
		config.Jwt = jwt
	}
	if snapshotPath, err := opts.String("--snapshot"); err == nil && snapshotPath != "" {
		config.Snapshot = snapshotPath
	}

	if config.ApiUrl == "" {
		Err.Fatal("missing api_url")
	}
	return config
}

func login(opts docopt.Opts) {
	config := loadConfig(opts)
	userAuth, _ := opts.String("--user_auth")

	fmt.Fprint(os.Stderr, "password: ")
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("read password: %s", err)
	}

	api := client.NewAdminApi(config.ApiUrl)
	defer api.Close()

	result, err := api.AuthLoginWithPasswordSync(&client.AuthLoginWithPasswordArgs{
		UserAuth: userAuth,
		Password: string(passwordBytes),
	})
	if err != nil {
		Err.Fatalf("login: %s", err)
	}
	if !result.Success || result.Data == nil {
		if result.Error != nil {
			Err.Fatalf("login: %s", result.Error.Message)
		}
		Err.Fatal("login failed")
	}
	Out.Printf("%s", result.Data.Jwt)
}

func list(opts docopt.Opts) {
	config := loadConfig(opts)
	entityType, _ := opts.String("<entity>")

	syncClient := newSyncClient(config)
	defer syncClient.Close()

	query := &client.Query{Page: 1}
	if page, err := opts.String("--page"); err == nil && page != "" {
		query.Page, _ = strconv.Atoi(page)
	}
	if perPage, err := opts.String("--per_page"); err == nil && perPage != "" {
		query.PerPage, _ = strconv.Atoi(perPage)
	}
	if search, err := opts.String("--search"); err == nil && search != "" {
		query.Search = search
	}
	if sort, err := opts.String("--sort"); err == nil && sort != "" {
		query.Sort = sort
	}

	var project client.ProjectFunc
	if allPages, _ := opts.Bool("--all_pages"); allPages {
		project = client.ProjectAllPages
	}

	fetcher := syncClient.NewFetcher(entityType, nil, project, query)
	defer fetcher.Close()

	if err := fetcher.Fetch(context.Background()); err != nil {
		Err.Fatalf("fetch %s: %s", entityType, err)
	}
	printProjection(fetcher.Data())
}

func watch(opts docopt.Opts) {
	config := loadConfig(opts)
	if config.ChannelUrl == "" {
		Err.Fatal("missing channel_url")
	}
	if config.Jwt == "" {
		Err.Fatal("missing jwt")
	}

	syncClient := newSyncClient(config)
	defer syncClient.Close()

	if config.Snapshot != "" {
		if _, err := os.Stat(config.Snapshot); err == nil {
			if err := client.LoadSnapshot(syncClient.Store(), config.Snapshot); err != nil {
				Err.Printf("load snapshot: %s", err)
			}
		}
	}

	syncClient.Store().AddUpdateListener(func(entityType string) {
		Out.Printf("update %s", entityType)
	})
	syncClient.Channel().AddDisconnectListener(func(err error) {
		Err.Printf("disconnected: %s", err)
	})

	topics, _ := opts["<topic>"].([]string)
	if len(topics) == 0 {
		// one topic per known entity type of this session
		for _, entityType := range []string{
			client.EntityAccounts,
			client.EntityTokens,
			client.EntityWallets,
			client.EntityTransactions,
		} {
			if err := syncClient.JoinEntityChannel(entityType); err != nil {
				Err.Fatalf("join %s: %s", entityType, err)
			}
		}
	} else {
		for _, topic := range topics {
			if err := syncClient.Channel().JoinChannel(topic); err != nil {
				Err.Fatalf("join %s: %s", topic, err)
			}
		}
	}

	if err := syncClient.Connect(context.Background()); err != nil {
		Err.Fatalf("connect: %s", err)
	}
	Out.Printf("watching %s", strings.Join(syncClient.Channel().PendingJoinTopics(), ", "))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if config.Snapshot != "" {
		if err := client.SaveSnapshot(syncClient.Store(), config.Snapshot); err != nil {
			Err.Printf("save snapshot: %s", err)
		}
	}
}

func snapshot(opts docopt.Opts) {
	config := loadConfig(opts)
	if config.Snapshot == "" {
		Err.Fatal("missing snapshot path")
	}

	syncClient := newSyncClient(config)
	defer syncClient.Close()

	entityTypes, _ := opts["<entity>"].([]string)
	for _, entityType := range entityTypes {
		fetcher := syncClient.NewFetcher(entityType, nil, nil, &client.Query{Page: 1})
		if err := fetcher.Fetch(context.Background()); err != nil {
			Err.Printf("fetch %s: %s", entityType, err)
		}
		fetcher.Close()
	}

	if err := client.SaveSnapshot(syncClient.Store(), config.Snapshot); err != nil {
		Err.Fatalf("save snapshot: %s", err)
	}
	Out.Printf("saved %s", config.Snapshot)
}

func newSyncClient(config *Config) *client.SyncClient {
	syncClient := client.NewSyncClientWithDefaults(
		context.Background(),
		config.ApiUrl,
		config.ChannelUrl,
	)
	if config.Jwt != "" {
		if err := syncClient.SetJwt(config.Jwt); err != nil {
			Err.Fatalf("parse jwt: %s", err)
		}
	}
	return syncClient
}

func printProjection(projection *client.Projection) {
	for _, record := range projection.Data {
		recordJson, err := json.Marshal(record)
		if err != nil {
			continue
		}
		Out.Printf("%s", string(recordJson))
	}
	Out.Printf(
		"page %d per_page %d first=%t last=%t",
		projection.Pagination.Page,
		projection.Pagination.PerPage,
		projection.Pagination.IsFirstPage,
		projection.Pagination.IsLastPage,
	)
}
