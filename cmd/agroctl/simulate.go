package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/agro-freight/internal/auth"
	"github.com/example/agro-freight/internal/geo"
	"github.com/example/agro-freight/internal/models"
)

var (
	alger = models.Coord{Lat: 36.7538, Lon: 3.0588}
	blida = models.Coord{Lat: 36.4700, Lon: 2.8277}
)

type simOptions struct {
	API        string
	ShipmentID string
	Token      string
	From, To   models.Coord
	Steps      int
	Interval   time.Duration
	Speed      float64
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a simulated truck along a path, posting tracking updates",
		Long: `Walk a straight path (Alger to Blida by default) and post one tracking update
per step to /tracking/{id}/update. The shipment must already be in transit and the
token must belong to its transporter.

Examples:
  agroctl simulate --shipment 7f9c... --user trans-1
  agroctl simulate --shipment 7f9c... --token "$TOKEN" --steps 30 --interval 1s`,
		RunE: runSimulate,
	}
	cmd.Flags().String("api", envOr("AGRO_API", "http://localhost:8080"), "API base URL")
	cmd.Flags().String("shipment", "", "shipment id (required)")
	cmd.Flags().String("token", "", "bearer token; minted from --user and --secret when empty")
	cmd.Flags().String("user", "", "transporter id to mint a token for")
	cmd.Flags().String("secret", envOr("JWT_SECRET", "dev-secret-change-me"), "HS256 signing secret")
	cmd.Flags().Float64Slice("from", []float64{alger.Lat, alger.Lon}, "start lat,lon")
	cmd.Flags().Float64Slice("to", []float64{blida.Lat, blida.Lon}, "end lat,lon")
	cmd.Flags().Int("steps", 10, "number of legs")
	cmd.Flags().Duration("interval", 2*time.Second, "delay between updates")
	cmd.Flags().Float64("speed", 60, "reported speed in km/h")
	_ = cmd.MarkFlagRequired("shipment")
	return cmd
}

func runSimulate(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	opts := simOptions{}
	opts.API, _ = f.GetString("api")
	opts.ShipmentID, _ = f.GetString("shipment")
	opts.Token, _ = f.GetString("token")
	opts.Steps, _ = f.GetInt("steps")
	opts.Interval, _ = f.GetDuration("interval")
	opts.Speed, _ = f.GetFloat64("speed")

	var err error
	if opts.From, err = coordFlag(cmd, "from"); err != nil {
		return err
	}
	if opts.To, err = coordFlag(cmd, "to"); err != nil {
		return err
	}
	if opts.Token == "" {
		user, _ := f.GetString("user")
		secret, _ := f.GetString("secret")
		if user == "" {
			return fmt.Errorf("either --token or --user is required")
		}
		if opts.Token, err = mintToken(secret, envOr("JWT_ISSUER", "agro-freight"), time.Hour, user, auth.RoleTransporter); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return simulate(ctx, &http.Client{Timeout: 10 * time.Second}, opts, cmd.OutOrStdout())
}

func coordFlag(cmd *cobra.Command, name string) (models.Coord, error) {
	v, _ := cmd.Flags().GetFloat64Slice(name)
	if len(v) != 2 {
		return models.Coord{}, fmt.Errorf("--%s wants lat,lon", name)
	}
	c := models.Coord{Lat: v[0], Lon: v[1]}
	if !models.ValidCoord(c) {
		return models.Coord{}, fmt.Errorf("--%s out of range", name)
	}
	return c, nil
}

// simulate posts one update per point of the path. It stops at the first rejected
// update, since every later one would be rejected too.
func simulate(ctx context.Context, client *http.Client, opts simOptions, out io.Writer) error {
	path := geo.Interpolate(opts.From, opts.To, opts.Steps)
	url := strings.TrimRight(opts.API, "/") + "/tracking/" + opts.ShipmentID + "/update"
	heading := geo.Bearing(opts.From, opts.To)

	for i, p := range path {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.Interval):
			}
		}
		body, err := json.Marshal(map[string]float64{
			"latitude":  p.Lat,
			"longitude": p.Lon,
			"speed":     opts.Speed,
			"heading":   heading,
		})
		if err != nil {
			return err
		}
		if err := postUpdate(ctx, client, url, opts.Token, body); err != nil {
			return fmt.Errorf("update %d/%d: %w", i+1, len(path), err)
		}
		fmt.Fprintf(out, "%d/%d  %.5f,%.5f  %.1f km to go\n", i+1, len(path), p.Lat, p.Lon, geo.Round2(geo.Distance(p, opts.To)))
	}
	return nil
}

func postUpdate(ctx context.Context, client *http.Client, url, token string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("status %d: %s", resp.StatusCode, e.Message)
	}
	return nil
}
