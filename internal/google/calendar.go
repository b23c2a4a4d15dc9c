package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"yoyaku/internal/config"
	"yoyaku/internal/models"
	"yoyaku/internal/timegrid"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Auth modes, in the order NewCalendarClient tries them.
const (
	AuthCredentialsFile = "credentials_file"
	AuthServiceAccount  = "service_account"
	AuthRefreshToken    = "refresh_token"
)

var errNoCredentials = errors.New("no google credentials configured")

type CalendarClient struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
	mode       string
	logger     *zerolog.Logger
}

// NewCalendarClient returns nil without error when no calendar id or no
// credentials are configured; callers treat that as "calendar disabled".
func NewCalendarClient(ctx context.Context, cfg config.GoogleConfig, loc *time.Location, logger *zerolog.Logger) (*CalendarClient, error) {
	if strings.TrimSpace(cfg.CalendarID) == "" {
		return nil, nil
	}

	client, mode, err := authorizedClient(ctx, cfg, calendar.CalendarEventsScope)
	if errors.Is(err, errNoCredentials) {
		logger.Warn().Msg("Calendar id is set but no credentials are configured, calendar disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	c := newCalendarClient(srv, cfg.CalendarID, loc, logger)
	c.mode = mode
	c.logger.Info().Str("auth", mode).Msg("Calendar client initialized")
	return c, nil
}

func newCalendarClient(srv *calendar.Service, calendarID string, loc *time.Location, logger *zerolog.Logger) *CalendarClient {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "calendar").Str("calendar_id", calendarID).Logger()
	return &CalendarClient{service: srv, calendarID: calendarID, loc: loc, logger: &l}
}

// authorizedClient builds an HTTP client for scope from the first configured
// credential source.
func authorizedClient(ctx context.Context, cfg config.GoogleConfig, scope string) (*http.Client, string, error) {
	switch {
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, "", fmt.Errorf("unable to read credentials file: %w", err)
		}
		jwtCfg, err := google.JWTConfigFromJSON(data, scope)
		if err != nil {
			return nil, "", fmt.Errorf("unable to parse credentials: %w", err)
		}
		return jwtCfg.Client(ctx), AuthCredentialsFile, nil

	case cfg.ServiceAccountEmail != "" && cfg.ServiceAccountPrivateKey != "":
		jwtCfg := &jwt.Config{
			Email:      cfg.ServiceAccountEmail,
			PrivateKey: []byte(strings.ReplaceAll(cfg.ServiceAccountPrivateKey, `\n`, "\n")),
			Scopes:     []string{scope},
			TokenURL:   google.JWTTokenURL,
		}
		return jwtCfg.Client(ctx), AuthServiceAccount, nil

	case cfg.ClientID != "" && cfg.ClientSecret != "" && cfg.RefreshToken != "":
		oauthCfg := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{scope},
		}
		return oauthCfg.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}), AuthRefreshToken, nil
	}
	return nil, "", errNoCredentials
}

// Mode reports which credential source authenticated the client.
func (c *CalendarClient) Mode() string {
	return c.mode
}

// CreateEvent inserts the reservation into the calendar and returns the
// event id.
func (c *CalendarClient) CreateEvent(ctx context.Context, r *models.Reservation) (string, error) {
	ev := BuildEvent(r, c.loc)
	created, err := c.service.Events.Insert(c.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("insert calendar event: %w", err)
	}
	c.logger.Debug().Str("reservation_id", r.ID).Str("event_id", created.Id).Msg("Calendar event created")
	return created.Id, nil
}

// BuildEvent renders a reservation as a calendar event in loc.
func BuildEvent(r *models.Reservation, loc *time.Location) *calendar.Event {
	lines := []string{"■ お名前: " + r.Name}
	if r.Phone != "" {
		lines = append(lines, "■ 電話: "+r.Phone)
	}
	if r.HasEmail() {
		lines = append(lines, "■ メール: "+r.Email)
	}
	lines = append(lines,
		"■ コース: "+r.Course.String(),
		"■ 日付: "+r.DateString(),
		fmt.Sprintf("■ 時間: %s 〜 %s", r.StartTime, r.EndTime),
	)
	if r.Notes != "" {
		lines = append(lines, "■ 備考: "+r.Notes)
	}
	lines = append(lines, "■ 予約ID: "+r.ID)

	return &calendar.Event{
		Summary:     fmt.Sprintf("%s / %s", r.Name, r.Course),
		Description: strings.Join(lines, "\n"),
		Start: &calendar.EventDateTime{
			DateTime: wallClock(r.Date, r.StartTime, loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		End: &calendar.EventDateTime{
			DateTime: wallClock(r.Date, r.EndTime, loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
	}
}

func wallClock(date time.Time, clock string, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, timegrid.ToMinutes(clock), 0, 0, loc)
}
