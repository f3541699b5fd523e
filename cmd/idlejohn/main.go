// idlejohn es el CLI de operador: habla con el daemon local vía la API
// de control. Las passphrases se piden por prompt sin eco; pasarlas por
// flag queda para scripts que asumen el riesgo.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type client struct {
	BaseURL   string
	OutFormat string // "json" | "text"
	HTTP      *http.Client
}

func (c *client) do(method, path string, body []byte) (int, []byte, error) {
	u := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b, nil
}

func (c *client) doJSON(method, path string, payload any) (int, []byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = b
	}
	return c.do(method, path, body)
}

func (c *client) print(status int, body []byte) {
	if c.OutFormat == "json" {
		var v any
		if json.Unmarshal(body, &v) == nil {
			p, _ := json.MarshalIndent(v, "", "  ")
			fmt.Println(string(p))
			return
		}
	}
	if len(body) > 0 {
		fmt.Println(string(body))
	} else {
		fmt.Printf("status=%d\n", status)
	}
}

// apiError arma un error legible desde el body de error de la API.
func apiError(op string, status int, body []byte) error {
	var e struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		if e.Description != "" {
			return fmt.Errorf("%s: %s (%s)", op, e.Error, e.Description)
		}
		return fmt.Errorf("%s: %s", op, e.Error)
	}
	return fmt.Errorf("%s: status=%d body=%s", op, status, string(body))
}

// ─── Vistas de la API ───────────────────────────────────────────────────

type identityView struct {
	IdentityID  string     `json:"identityId"`
	LoginName   string     `json:"loginName"`
	Status      string     `json:"status"`
	LastError   string     `json:"lastError"`
	DesiredIdle bool       `json:"desiredIdle"`
	Persona     string     `json:"persona"`
	ActivitySet []uint32   `json:"activitySet"`
	Live        bool       `json:"live"`
	LockedUntil *time.Time `json:"lockedUntil"`
}

type snapshotView struct {
	LoginName string `json:"loginName"`
	Status    string `json:"status"`
	LastError string `json:"lastError"`
	Live      bool   `json:"live"`
}

type outcomeView struct {
	LoginName string `json:"loginName"`
	Status    string `json:"status"`
	Err       string `json:"error"`
}

// ─── Helpers ────────────────────────────────────────────────────────────

var stdin = bufio.NewReader(os.Stdin)

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

func looksLikeID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

// resolve acepta un ID o un login name; con login consulta la lista.
func resolve(cl *client, arg string) (string, error) {
	if looksLikeID(arg) {
		return arg, nil
	}
	status, body, err := cl.do("GET", "/v1/identities", nil)
	if err != nil {
		return "", err
	}
	if status/100 != 2 {
		return "", apiError("listar identidades", status, body)
	}
	var resp struct {
		Identities []identityView `json:"identities"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	for _, v := range resp.Identities {
		if strings.EqualFold(v.LoginName, arg) {
			return v.IdentityID, nil
		}
	}
	return "", fmt.Errorf("identidad %q no encontrada", arg)
}

func parseActivities(args []string) ([]uint32, error) {
	var out []uint32
	for _, a := range args {
		for _, part := range strings.Split(a, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("appid inválido %q", part)
			}
			out = append(out, uint32(n))
		}
	}
	return out, nil
}

func renderActivities(ids []uint32) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

func renderStatus(v identityView) string {
	if v.Status == "locked" && v.LockedUntil != nil {
		return fmt.Sprintf("locked(hasta %s)", v.LockedUntil.Local().Format("15:04"))
	}
	if v.LastError != "" {
		return v.Status + "!"
	}
	return v.Status
}

func renderIdentities(rows []identityView) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LOGIN\tESTADO\tLIVE\tIDLE\tPERSONA\tACTIVIDADES\tID")
	for _, v := range rows {
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\t%s\t%s\n",
			v.LoginName, renderStatus(v), v.Live, v.DesiredIdle,
			v.Persona, renderActivities(v.ActivitySet), v.IdentityID)
	}
	_ = w.Flush()
}

func printSnapshot(cl *client, status int, body []byte) {
	if cl.OutFormat != "text" {
		cl.print(status, body)
		return
	}
	var s snapshotView
	if json.Unmarshal(body, &s) != nil || s.LoginName == "" {
		cl.print(status, body)
		return
	}
	line := fmt.Sprintf("%s: %s", s.LoginName, s.Status)
	if s.Live {
		line += " (live)"
	}
	if s.LastError != "" {
		line += " err=" + s.LastError
	}
	fmt.Println(line)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	var (
		baseURL = envOr("IDLEJOHN_URL", "http://localhost:8090")
		out     = envOr("IDLEJOHN_OUT", "text")
	)

	// Timeout holgado: start-all espera logins reales del otro lado.
	cl := &client{HTTP: &http.Client{Timeout: 5 * time.Minute}}

	root := &cobra.Command{
		Use:           "idlejohn",
		Short:         "CLI de operador para el daemon idlejohn",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cl.BaseURL = baseURL
			cl.OutFormat = out
		},
	}
	root.PersistentFlags().StringVar(&baseURL, "url", baseURL, "URL base de la API de control (env IDLEJOHN_URL)")
	root.PersistentFlags().StringVar(&out, "out", out, "Formato de salida: json|text")

	// ─── unlock / rekey ─────────────────────────────────────────────────

	var unlockPass string
	unlockCmd := &cobra.Command{
		Use:   "unlock",
		Short: "Desbloquea el proceso con la passphrase maestra",
		RunE: func(cmd *cobra.Command, args []string) error {
			pass := unlockPass
			if pass == "" {
				var err error
				pass, err = promptSecret("Passphrase: ")
				if err != nil {
					return err
				}
			}
			status, body, err := cl.doJSON("POST", "/v1/unlock", map[string]any{"passphrase": pass})
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("unlock", status, body)
			}
			if cl.OutFormat == "text" {
				fmt.Println("ok")
				return nil
			}
			cl.print(status, body)
			return nil
		},
	}
	unlockCmd.Flags().StringVar(&unlockPass, "passphrase", "", "Passphrase (si falta se pide por prompt)")

	var rekeyOld, rekeyNew string
	rekeyCmd := &cobra.Command{
		Use:   "rekey",
		Short: "Rota la passphrase maestra re-cifrando todos los secretos",
		RunE: func(cmd *cobra.Command, args []string) error {
			oldPass := rekeyOld
			if oldPass == "" {
				var err error
				oldPass, err = promptSecret("Passphrase actual: ")
				if err != nil {
					return err
				}
			}
			newPass := rekeyNew
			if newPass == "" {
				p1, err := promptSecret("Passphrase nueva: ")
				if err != nil {
					return err
				}
				p2, err := promptSecret("Confirmar passphrase nueva: ")
				if err != nil {
					return err
				}
				if p1 != p2 {
					return fmt.Errorf("las passphrases no coinciden")
				}
				newPass = p1
			}
			status, body, err := cl.doJSON("POST", "/v1/rekey", map[string]any{
				"oldPassphrase": oldPass,
				"newPassphrase": newPass,
			})
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("rekey", status, body)
			}
			cl.print(status, body)
			return nil
		},
	}
	rekeyCmd.Flags().StringVar(&rekeyOld, "old", "", "Passphrase actual (si falta se pide por prompt)")
	rekeyCmd.Flags().StringVar(&rekeyNew, "new", "", "Passphrase nueva (si falta se pide por prompt)")

	// ─── status / list ──────────────────────────────────────────────────

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Estado agregado del proceso y sus sesiones",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/status", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("status", status, body)
			}
			if cl.OutFormat != "text" {
				cl.print(status, body)
				return nil
			}
			var resp struct {
				Live     int            `json:"live"`
				Sessions []identityView `json:"sessions"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			fmt.Printf("sesiones vivas: %d\n", resp.Live)
			renderIdentities(resp.Sessions)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lista las identidades registradas",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, body, err := cl.do("GET", "/v1/identities", nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("list", status, body)
			}
			if cl.OutFormat != "text" {
				cl.print(status, body)
				return nil
			}
			var resp struct {
				Identities []identityView `json:"identities"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			renderIdentities(resp.Identities)
			return nil
		},
	}

	// ─── add / rm ───────────────────────────────────────────────────────

	var addLogin, addPassword, addSharedSecret, addIdentitySecret, addPersona string
	var addActivities []string
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Da de alta una identidad (los secretos se cifran al entrar)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addLogin == "" {
				return fmt.Errorf("--login es requerido")
			}
			ids, err := parseActivities(addActivities)
			if err != nil {
				return err
			}
			payload := map[string]any{"loginName": addLogin}
			if addPassword != "" {
				payload["password"] = addPassword
			}
			if addSharedSecret != "" {
				payload["sharedSecret"] = addSharedSecret
			}
			if addIdentitySecret != "" {
				payload["identitySecret"] = addIdentitySecret
			}
			if addPersona != "" {
				payload["persona"] = addPersona
			}
			if len(ids) > 0 {
				payload["activitySet"] = ids
			}
			status, body, err := cl.doJSON("POST", "/v1/identities", payload)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("add", status, body)
			}
			cl.print(status, body)
			return nil
		},
	}
	addCmd.Flags().StringVar(&addLogin, "login", "", "Login name de la cuenta (requerido)")
	addCmd.Flags().StringVar(&addPassword, "password", "", "Password de la cuenta (opcional, el alta puede quedar incompleta)")
	addCmd.Flags().StringVar(&addSharedSecret, "shared-secret", "", "Shared secret TOTP (opcional)")
	addCmd.Flags().StringVar(&addIdentitySecret, "identity-secret", "", "Identity secret (opcional)")
	addCmd.Flags().StringVar(&addPersona, "persona", "", "Persona inicial (online|away|invisible|...)")
	addCmd.Flags().StringSliceVar(&addActivities, "activities", nil, "AppIDs del set de actividad, ej: 570,730")

	rmCmd := &cobra.Command{
		Use:   "rm <id|login>",
		Short: "Elimina una identidad y sus registros",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(cl, args[0])
			if err != nil {
				return err
			}
			status, body, err := cl.do("DELETE", "/v1/identities/"+id, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("rm", status, body)
			}
			if cl.OutFormat == "text" {
				fmt.Println("ok")
				return nil
			}
			cl.print(status, body)
			return nil
		},
	}

	// ─── Verbos de sesión ───────────────────────────────────────────────

	verb := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <id|login>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := resolve(cl, args[0])
				if err != nil {
					return err
				}
				status, body, err := cl.do("POST", "/v1/identities/"+id+path, nil)
				if err != nil {
					return err
				}
				if status/100 != 2 {
					return apiError(use, status, body)
				}
				printSnapshot(cl, status, body)
				return nil
			},
		}
	}
	startCmd := verb("start", "Conecta la identidad (retoma el idling si quedó pedido)", "/start")
	stopCmd := verb("stop", "Corta el idling sin desconectar", "/stop")
	logoutCmd := verb("logout", "Desconecta la identidad", "/logout")

	bulk := func(use, short, path string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				status, body, err := cl.do("POST", path, nil)
				if err != nil {
					return err
				}
				if status/100 != 2 {
					return apiError(use, status, body)
				}
				if cl.OutFormat != "text" {
					cl.print(status, body)
					return nil
				}
				var resp struct {
					Results []outcomeView `json:"results"`
				}
				if err := json.Unmarshal(body, &resp); err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "LOGIN\tESTADO\tERROR")
				for _, o := range resp.Results {
					e := o.Err
					if e == "" {
						e = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", o.LoginName, o.Status, e)
				}
				_ = w.Flush()
				return nil
			},
		}
	}
	startAllCmd := bulk("start-all", "Arranca todas las identidades con credenciales", "/v1/start-all")
	stopAllCmd := bulk("stop-all", "Corta el idling de todas sin desconectar", "/v1/stop-all")
	logoutAllCmd := bulk("logout-all", "Desconecta todas las sesiones", "/v1/logout-all")

	// ─── activity / persona ─────────────────────────────────────────────

	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "Maneja el set de actividad de una identidad",
	}
	activitySetCmd := &cobra.Command{
		Use:   "set <id|login> <appid...>",
		Short: "Fija el set de actividad (se aplica en vivo si hay sesión)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(cl, args[0])
			if err != nil {
				return err
			}
			ids, err := parseActivities(args[1:])
			if err != nil {
				return err
			}
			status, body, err := cl.doJSON("PUT", "/v1/identities/"+id+"/activity", map[string]any{"ids": ids})
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("activity set", status, body)
			}
			printSnapshot(cl, status, body)
			return nil
		},
	}
	activityStopCmd := &cobra.Command{
		Use:   "stop <id|login>",
		Short: "Corta el idling de la identidad (equivale a stop)",
		Args:  cobra.ExactArgs(1),
		RunE:  stopCmd.RunE,
	}
	activityCmd.AddCommand(activitySetCmd, activityStopCmd)

	personaCmd := &cobra.Command{
		Use:   "persona <id|login> <persona>",
		Short: "Fija la presencia proyectada (online|busy|away|snooze|invisible|...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolve(cl, args[0])
			if err != nil {
				return err
			}
			status, body, err := cl.doJSON("PUT", "/v1/identities/"+id+"/persona", map[string]any{"persona": args[1]})
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("persona", status, body)
			}
			printSnapshot(cl, status, body)
			return nil
		},
	}

	// ─── events ─────────────────────────────────────────────────────────

	var evLevel, evIdentity, evCategory string
	var evLimit int
	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Consulta el activity log persistido",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if evLevel != "" {
				q.Set("level", evLevel)
			}
			if evIdentity != "" {
				id, err := resolve(cl, evIdentity)
				if err != nil {
					return err
				}
				q.Set("identity", id)
			}
			if evCategory != "" {
				q.Set("category", evCategory)
			}
			if evLimit > 0 {
				q.Set("limit", strconv.Itoa(evLimit))
			}
			path := "/v1/events"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			status, body, err := cl.do("GET", path, nil)
			if err != nil {
				return err
			}
			if status/100 != 2 {
				return apiError("events", status, body)
			}
			if cl.OutFormat != "text" {
				cl.print(status, body)
				return nil
			}
			var resp struct {
				Events []struct {
					Timestamp  time.Time `json:"timestamp"`
					Level      string    `json:"level"`
					IdentityID string    `json:"identityId"`
					Category   string    `json:"category"`
					Message    string    `json:"message"`
				} `json:"events"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return err
			}
			for _, e := range resp.Events {
				who := e.IdentityID
				if who == "" {
					who = "-"
				}
				fmt.Printf("%s  %-5s %-11s %-36s %s\n",
					e.Timestamp.Local().Format("2006-01-02 15:04:05"),
					e.Level, e.Category, who, e.Message)
			}
			return nil
		},
	}
	eventsCmd.Flags().StringVar(&evLevel, "level", "", "Filtrar por nivel (debug|info|warn|error)")
	eventsCmd.Flags().StringVar(&evIdentity, "identity", "", "Filtrar por identidad (id o login)")
	eventsCmd.Flags().StringVar(&evCategory, "category", "", "Filtrar por categoría (session|login|lockout|...)")
	eventsCmd.Flags().IntVar(&evLimit, "limit", 0, "Máximo de entradas (0 = default del server)")

	root.AddCommand(unlockCmd, rekeyCmd, statusCmd, listCmd, addCmd, rmCmd,
		startCmd, stopCmd, logoutCmd, startAllCmd, stopAllCmd, logoutAllCmd,
		activityCmd, personaCmd, eventsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
