// keys es la utilería offline del keyring: verifica passphrases, deriva
// e imprime la clave activa y rota la passphrase directo contra el
// almacenamiento. Pensada para correrse con el daemon detenido.
package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/dropDatabas3/idlejohn/internal/config"
	"github.com/dropDatabas3/idlejohn/internal/domain/repository"
	"github.com/dropDatabas3/idlejohn/internal/observability/logger"
	"github.com/dropDatabas3/idlejohn/internal/security/keyring"
	"github.com/dropDatabas3/idlejohn/internal/store"

	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/idlejohn/internal/store/adapters/sqlite"
)

func main() {
	var (
		flagEnvOnly    = flag.Bool("env", false, "usar SOLO env (y .env si se pasa -env-file)")
		flagEnvFile    = flag.String("env-file", ".env", "ruta a .env")
		flagConfigPath = flag.String("config", "", "ruta a config.yaml (si no se usa -env)")

		cmdCheck  = flag.Bool("check", false, "verifica la passphrase contra el almacenamiento")
		cmdDerive = flag.Bool("derive", false, "deriva la clave y la imprime junto al salt y el key-check")
		cmdRekey  = flag.Bool("rekey", false, "rota la passphrase re-cifrando todos los secretos")

		flagPassphrase = flag.String("passphrase", "", "passphrase para -check/-derive (si se omite, se pide por terminal)")
		flagOld        = flag.String("old", "", "passphrase actual para -rekey")
		flagNew        = flag.String("new", "", "passphrase nueva para -rekey")
	)
	flag.Parse()

	if !*cmdCheck && !*cmdDerive && !*cmdRekey {
		fmt.Println("usage:")
		fmt.Println("  keys -check  [-passphrase S] [-config configs/config.yaml | -env] [-env-file .env]")
		fmt.Println("  keys -derive [-passphrase S]")
		fmt.Println("  keys -rekey  [-old S] [-new S]   (con el daemon detenido)")
		return
	}

	if *flagEnvFile != "" {
		_ = godotenv.Load(*flagEnvFile)
	}

	// Cargar config (igual que el service)
	var cfg *config.Config
	var err error
	if *flagEnvOnly {
		cfg = &config.Config{}
		cfg.Storage.Driver = getenv("STORAGE_DRIVER", "sqlite")
		cfg.Storage.DSN = os.Getenv("STORAGE_DSN")
		cfg.Storage.SQLite.Path = getenv("SQLITE_PATH", "./data/idlejohn.db")
		cfg.Storage.SQLite.BusyTimeout = getenv("SQLITE_BUSY_TIMEOUT", "5s")
		cfg.Security.KDFIterations = envInt("SECURITY_KDF_ITERATIONS", 310_000)
	} else {
		path := *flagConfigPath
		if path == "" {
			if fileExists("configs/config.yaml") {
				path = "configs/config.yaml"
			} else {
				path = "configs/config.example.yaml"
			}
		}
		cfg, err = config.Load(path)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	// El keyring loguea por zap; acá solo interesan los warnings.
	logger.Init(logger.Config{
		Env:         "dev",
		Level:       getenv("LOG_LEVEL", "warn"),
		ServiceName: "idlejohn-keys",
	})
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	conn, err := store.OpenAdapter(ctx, store.AdapterConfig{
		Name:            cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		Path:            cfg.Storage.SQLite.Path,
		BusyTimeout:     config.Dur(cfg.Storage.SQLite.BusyTimeout),
		MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
		ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime),
	})
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer func() { _ = conn.Close() }()

	settings := conn.Settings()
	saltB64, err := settings.Get(ctx, repository.SettingKDFSalt)
	if err != nil {
		if repository.IsNotFound(err) {
			log.Fatalf("almacenamiento sin inicializar: ningún unlock previo")
		}
		log.Fatalf("leer salt: %v", err)
	}

	// Sink local: captura la clave derivada en vez de instalarla en el
	// proceso (acá no hay sesiones que la necesiten).
	var derived []byte
	kr := keyring.New(cfg.Security.KDFIterations, settings, func(k []byte) error {
		derived = append([]byte(nil), k...)
		return nil
	})

	switch {
	case *cmdCheck:
		pass := readPassphrase(*flagPassphrase, "Passphrase: ")
		if err := kr.Unlock(ctx, pass); err != nil {
			if repository.IsDecryption(err) {
				fmt.Fprintln(os.Stderr, "passphrase incorrecta")
				os.Exit(1)
			}
			log.Fatalf("unlock: %v", err)
		}
		fmt.Println("passphrase correcta")
	case *cmdDerive:
		pass := readPassphrase(*flagPassphrase, "Passphrase: ")
		if err := kr.Unlock(ctx, pass); err != nil {
			if repository.IsDecryption(err) {
				fmt.Fprintln(os.Stderr, "passphrase incorrecta")
				os.Exit(1)
			}
			log.Fatalf("unlock: %v", err)
		}
		check, err := settings.Get(ctx, repository.SettingKeyCheck)
		if err != nil {
			log.Fatalf("leer key-check: %v", err)
		}
		fmt.Printf("iteraciones: %d\n", cfg.Security.KDFIterations)
		fmt.Printf("salt:        %s\n", saltB64)
		fmt.Printf("key-check:   %s\n", check)
		fmt.Printf("clave:       %s\n", base64.StdEncoding.EncodeToString(derived))
		fmt.Println()
		fmt.Println("cuidado: esta clave abre todos los secretos almacenados")
	case *cmdRekey:
		oldPass := readPassphrase(*flagOld, "Passphrase actual: ")
		newPass := *flagNew
		if newPass == "" {
			newPass = readPassphrase("", "Passphrase nueva: ")
			confirm := readPassphrase("", "Confirmar passphrase nueva: ")
			if newPass != confirm {
				log.Fatalf("las passphrases no coinciden")
			}
		}
		res, err := kr.Rekey(ctx, conn.Identities(), oldPass, newPass)
		if err != nil {
			if repository.IsDecryption(err) {
				fmt.Fprintln(os.Stderr, "passphrase actual incorrecta")
				os.Exit(1)
			}
			log.Fatalf("rekey: %v", err)
		}
		fmt.Printf("passphrase rotada: %d campos re-cifrados, %d fallidos\n", res.Reencrypted, res.Failed)
	}
}

var stdin = bufio.NewReader(os.Stdin)

// readPassphrase usa el valor del flag si vino; si no, pide por terminal.
func readPassphrase(flagValue, label string) string {
	if flagValue != "" {
		return flagValue
	}
	s, err := promptSecret(label)
	if err != nil {
		log.Fatalf("leer passphrase: %v", err)
	}
	return s
}

// promptSecret lee una passphrase sin eco. Con stdin que no es terminal
// (pipes, scripts) cae a leer una línea plana.
func promptSecret(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func getenv(k, d string) string {
	if v := os.Getenv(k); strings.TrimSpace(v) != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return d
}
