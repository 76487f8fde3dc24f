package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/vucemtools/firmador/database"
	"github.com/vucemtools/firmador/formats"
	"github.com/vucemtools/firmador/pfxhost"
)

// configuration loads a yaml file that contains the portal endpoints,
// the hosting and statsd settings and the clients to log in.
type configuration struct {
	Portal struct {
		ChallengeURL string `yaml:"challengeurl"`
		LoginURL     string `yaml:"loginurl"`
		SiteID       string `yaml:"siteid"`
		Location     string `yaml:"location"`
		Timeout      string `yaml:"timeout"`
	}
	Hosting struct {
		Listen  string `yaml:"listen"`
		BaseURL string `yaml:"baseurl"`
	}
	Statsd struct {
		Addr      string `yaml:"addr"`
		Namespace string `yaml:"namespace"`
		Buflen    int    `yaml:"buflen"`
	}
	Database   database.Config
	MaxWorkers int              `yaml:"maxworkers"`
	Clients    []formats.Client `yaml:"clients"`
}

func main() {
	var (
		conf    configuration
		cfgFile string
		debug   bool
		err     error
	)
	flag.StringVar(&cfgFile, "c", "firmador.yaml", "Path to configuration file")
	flag.BoolVar(&debug, "D", false, "Print debug logs")
	flag.Parse()

	if debug {
		log.SetLevel(log.DebugLevel)
	}

	err = conf.loadFromFile(cfgFile)
	if err != nil {
		log.Fatal(err)
	}
	if conf.Portal.ChallengeURL == "" || conf.Portal.LoginURL == "" {
		log.Fatal("configuration is missing the portal challenge and login URLs")
	}

	clients := conf.Clients
	if conf.Database.Name != "" {
		db, err := database.Connect(conf.Database)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		if conf.Database.MonitorPollInterval > 0 {
			quit := make(chan bool)
			defer close(quit)
			go db.Monitor(conf.Database.MonitorPollInterval, quit)
		}
		dbClients, err := db.GetActiveClients()
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("loaded %d client records from database", len(dbClients))
		clients = append(clients, dbClients...)
	}
	if len(clients) == 0 {
		log.Fatal("no clients configured, nothing to do")
	}

	stats, err := loadStatsd(conf)
	if err != nil {
		log.Fatal(err)
	}

	// the store hosting built containers lives exactly as long as
	// this run: store, read during login, clear on the way out
	store := pfxhost.NewStore(conf.Hosting.BaseURL)
	defer store.Clear()
	if conf.Hosting.Listen != "" {
		go func() {
			server := &http.Server{
				Addr:    conf.Hosting.Listen,
				Handler: store.Handler(),
			}
			log.Infof("hosting containers on %s", conf.Hosting.Listen)
			if err := server.ListenAndServe(); err != nil {
				log.Fatal(err)
			}
		}()
	}

	timeout, err := conf.portalTimeout()
	if err != nil {
		log.Fatal(err)
	}
	runner := &batchRunner{
		conf:    conf,
		timeout: timeout,
		store:   store,
		stats:   stats,
	}
	reports := runner.run(context.Background(), clients)

	failed := 0
	for _, report := range reports {
		if !report.Succeeded() {
			failed++
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n",
			report.Usuario, report.State, report.Failure, report.Duration, report.Err)
	}
	if failed > 0 {
		log.Errorf("%d of %d logins failed", failed, len(reports))
		os.Exit(1)
	}
	log.Infof("all %d logins succeeded", len(reports))
}

func (c *configuration) loadFromFile(path string) error {
	fd, err := ioutil.ReadFile(path)
	if err != nil {
		return err
	}
	err = yaml.Unmarshal(fd, &c)
	if err != nil {
		return err
	}
	return nil
}

func (c *configuration) portalTimeout() (time.Duration, error) {
	if c.Portal.Timeout == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Portal.Timeout)
}
