package main

import (
	"context"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	workerCount int
	engineLog   *log.Logger
)

const workerStaggerDelay = 250 * time.Millisecond

type moduleLogger struct {
	logger *log.Logger
}

func (m *moduleLogger) Log(format string, args ...any) {
	m.logger.Printf("      "+format, args...)
}

func main() {
	parseArgs()

	engineLogFile, moduleLogFile, modLog := setupLogging()
	defer engineLogFile.Close()
	defer moduleLogFile.Close()

	_ = godotenv.Load()

	signer, accounts, proxyManager := loadResources()
	solver := NewSolverFromConfig()
	if solver == nil {
		engineLog.Printf("No geetest solver configured; accounts hitting verification will be skipped")
	}

	scheduler := NewScheduler(workerCount, signer, solver, proxyManager, workerStaggerDelay, &moduleLogger{logger: modLog})

	os.Exit(run(scheduler, accounts))
}

func parseArgs() {
	workerCount = 4
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n <= 0 {
			log.Fatal("Usage: takumi [worker-count]")
		}
		workerCount = n
	}
}

func setupLogging() (engineLogFile, moduleLogFile *os.File, modLog *log.Logger) {
	var err error

	engineLogFile, err = os.OpenFile("engine.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open engine log file: %v", err)
	}
	engineLog = log.New(io.MultiWriter(os.Stdout, engineLogFile), "", log.LstdFlags)

	moduleLogFile, err = os.OpenFile("takumi.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		engineLog.Fatalf("Failed to open module log file: %v", err)
	}
	modLog = log.New(io.MultiWriter(os.Stdout, moduleLogFile), "", log.LstdFlags)

	return engineLogFile, moduleLogFile, modLog
}

func loadResources() (Signer, []*Account, *ProxyManager) {
	signer, err := NewSaltSigner(GetDSSalt())
	if err != nil {
		engineLog.Fatalf("Signer unavailable: %v (set DS_SALT)", err)
	}

	accounts, err := LoadAccounts("accounts.json")
	if err != nil {
		engineLog.Fatalf("Failed to load accounts: %v", err)
	}
	engineLog.Printf("Loaded %d accounts", len(accounts))

	// Proxies are optional; without them everything goes direct.
	proxyManager, err := NewProxyManager("proxies.txt")
	if err != nil {
		engineLog.Printf("No proxies loaded (%v), connecting directly", err)
		proxyManager = nil
	} else {
		engineLog.Printf("Loaded %d proxies", proxyManager.Count())
	}

	return signer, accounts, proxyManager
}

func run(scheduler *Scheduler, accounts []*Account) int {
	engineLog.Printf("Starting %d workers for %d accounts (stagger: %v)...", workerCount, len(accounts), workerStaggerDelay)

	ctx := context.Background()
	scheduler.Start(ctx)

	go func() {
		for _, acct := range accounts {
			scheduler.Submit(acct)
		}
	}()

	var done, succeeded, needLogin, needVerify int
	var fatalErr error

	for result := range scheduler.Results() {
		if result.Fatal {
			fatalErr = result.Err
			engineLog.Printf("FATAL ERROR: %v", result.Err)
			break
		}

		done++
		switch {
		case result.Err != nil:
			engineLog.Printf("[%d/%d] %s: error: %v", done, len(accounts), result.Account, result.Err)
		case result.SignIn.OK():
			succeeded++
			if result.Index != nil {
				engineLog.Printf("[%d/%d] %s: signed in (%s, AR %d, %d active days)", done, len(accounts),
					result.Account, result.Index.Role.Nickname, result.Index.Role.Level, result.Index.Stats.ActiveDays)
			} else {
				engineLog.Printf("[%d/%d] %s: signed in", done, len(accounts), result.Account)
			}
		case result.SignIn.Kind == OutcomeSessionExpired:
			needLogin++
			engineLog.Printf("[%d/%d] %s: session expired, re-login required", done, len(accounts), result.Account)
		case result.SignIn.Kind == OutcomeChallengeRequired:
			needVerify++
			engineLog.Printf("[%d/%d] %s: verification required, configure a geetest solver", done, len(accounts), result.Account)
		default:
			engineLog.Printf("[%d/%d] %s: %s (retcode %d)", done, len(accounts), result.Account,
				result.SignIn.Kind, result.SignIn.Retcode)
		}

		if done >= len(accounts) {
			break
		}
	}

	scheduler.Close()

	if fatalErr != nil {
		engineLog.Printf("=== ABORTED: %d/%d accounts done (fatal error: %v) ===", done, len(accounts), fatalErr)
		return 1
	}

	engineLog.Printf("=== Complete: %d succeeded, %d need re-login, %d need verification ===", succeeded, needLogin, needVerify)
	return 0
}
