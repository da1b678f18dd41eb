// Command spybois-server runs the game server. With no -db_path it keeps
// sessions in memory, which is handy for development but forgets everything
// on restart.
package main

import (
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diminishedprime/spybois/cryptorand"
	"github.com/diminishedprime/spybois/dict"
	"github.com/diminishedprime/spybois/game"
	"github.com/diminishedprime/spybois/memdb"
	"github.com/diminishedprime/spybois/spybois"
	"github.com/diminishedprime/spybois/sqldb"
	"github.com/diminishedprime/spybois/web"
	"github.com/namsral/flag"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "HTTP service address")
		dbPath      = flag.String("db_path", "", "Path to the SQLite DB file, in-memory when empty")
		dictFile    = flag.String("dict_file", "", "Path to a hint wordlist, all words allowed when empty")
		turnSeconds = flag.Int("turn_seconds", 90, "Turn timer budget in seconds")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	r := rand.New(cryptorand.NewSource())

	var db spybois.Store
	if *dbPath == "" {
		log.Info("no -db_path given, sessions are in-memory only")
		db = memdb.New()
	} else {
		sdb, err := sqldb.New(*dbPath, cryptorand.NewSource(), log)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize datastore")
		}
		defer sdb.Close()
		db = sdb
	}

	d, err := dict.New(*dictFile, log)
	if err != nil {
		log.WithError(err).Fatal("failed to load dictionary")
	}

	sc, err := web.LoadKeys()
	if err != nil {
		log.WithError(err).Fatal("failed to load cookie keys")
	}

	c := game.New(db, log, r)
	c.TurnBudget = time.Duration(*turnSeconds) * time.Second

	srv := web.New(db, c, d, sc, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		srv.Shutdown()
		if closer, ok := db.(interface{ Close() error }); ok {
			closer.Close()
		}
		os.Exit(1)
	}()

	log.WithField("addr", *addr).Info("server is running")
	if err := http.ListenAndServe(*addr, srv); err != nil {
		log.WithError(err).Fatal("ListenAndServe failed")
	}
}
