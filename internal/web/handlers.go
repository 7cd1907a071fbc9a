package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/theminus/minosd/internal/settings"
	"github.com/theminus/minosd/internal/update"
	"github.com/theminus/minosd/pkg/utils"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "minosd",
		"time":    time.Now().UTC(),
	})
}

func (s *Server) handleCSS(c *gin.Context) {
	c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(cssStyles))
}

type tokenRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "login and password required"})
		return
	}

	if !s.auth.CheckCredentials(req.Login, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, expiresAt, err := s.auth.IssueToken(req.Login)
	if err != nil {
		log.Error().Err(err).Msg("failed to issue token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt.UTC(),
	})
}

func (s *Server) handleRoot(c *gin.Context) {
	s.renderHTML(c, htmlRoot)
}

func (s *Server) handleModuleConfiguration(c *gin.Context) {
	s.renderHTML(c, htmlModuleConfiguration)
}

func (s *Server) renderHTML(c *gin.Context, tpl string) {
	cur := s.store.Get()

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderTemplate(c.Writer, tpl, s.lookup(cur)); err != nil {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("failed to render page")
	}
}

func (s *Server) lookup(cur settings.Settings) func(string) string {
	return func(key string) string {
		switch key {
		case "wifi_ssid":
			return htmlEscape(cur.WifiSSID)
		case "http_login":
			return htmlEscape(cur.HTTPLogin)
		case "hostname":
			return htmlEscape(cur.Hostname)
		case "mqtt_host":
			return htmlEscape(cur.MQTTHost)
		case "mqtt_port":
			return strconv.Itoa(cur.MQTTPort)
		case "mqtt_login":
			return htmlEscape(cur.MQTTLogin)
		case "CurrentDate":
			return time.Now().Format("2006-01-02")
		case "CurrentTime":
			return time.Now().Format("15:04:05")
		case "FirmwareVersion":
			return htmlEscape(s.bank.ActiveVersion())
		case "COPYRIGHT":
			return footer()
		}
		return ""
	}
}

// handleWifi applies the configuration form. Wi-Fi credential changes are
// staged and tested after the response is sent; everything else is saved
// immediately.
func (s *Server) handleWifi(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "malformed form")
		return
	}
	form := c.Request.Form

	log.Info().
		Str("method", c.Request.Method).
		Str("content_type", c.ContentType()).
		Msg("configuration form received")

	cur := s.store.Get()
	ssid, wifiPassword := cur.WifiSSID, cur.WifiPassword
	wifiChanged := false

	if v, ok := formValue(form, "wifiSSID"); ok && v != "" && v != cur.WifiSSID {
		ssid = v
		wifiChanged = true
	}
	if v, ok := formValue(form, "wifiPassword"); ok && v != "" {
		wifiPassword = v
		wifiChanged = true
	}

	err := s.store.Update(func(st *settings.Settings) {
		if v, ok := formValue(form, "httpLogin"); ok && v != "" {
			st.HTTPLogin = v
		}
		if v, ok := formValue(form, "hostname"); ok && v != "" {
			st.Hostname = v
		}
		if v, ok := formValue(form, "mqttHost"); ok {
			st.MQTTHost = v
		}
		if v, ok := formValue(form, "mqttPort"); ok {
			if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
				st.MQTTPort = port
			}
		}
		if v, ok := formValue(form, "mqttLogin"); ok {
			st.MQTTLogin = v
		}
		if v, ok := formValue(form, "mqttPassword"); ok && v != "" {
			st.MQTTPassword = v
		}
		if v, ok := formValue(form, "Sensitivity"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				if n < 0 {
					n = 0
				}
				if n > 255 {
					n = 255
				}
				st.Sensitivity = uint8(n)
			}
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to save settings")
		c.String(http.StatusInternalServerError, "failed to save configuration")
		return
	}

	if v, ok := formValue(form, "httpPassword"); ok && v != "" {
		if err := s.store.SetPassword(v); err != nil {
			log.Error().Err(err).Msg("failed to update password")
			c.String(http.StatusInternalServerError, "failed to save configuration")
			return
		}
	}

	s.renderHTML(c, htmlApplyConfiguration)

	if wifiChanged {
		if err := s.wifi.Stage(ssid, wifiPassword); err != nil {
			log.Error().Err(err).Msg("failed to stage wifi credentials")
			return
		}
		go s.wifi.TestStaged(context.Background())
	}
}

func formValue(form url.Values, key string) (string, bool) {
	vals, ok := form[key]
	if !ok || len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// handleUpdate streams the upload body into the inactive flash slot and
// schedules a restart when the new image is committed.
func (s *Server) handleUpdate(c *gin.Context) {
	log.Info().
		Str("content_type", c.ContentType()).
		Int64("content_length", c.Request.ContentLength).
		Msg("firmware upload started")

	previous := s.bank.ActiveVersion()

	report, err := update.NewController(s.bank).Ingest(
		c.Request.Context(), c.Request.Body, c.Request.ContentLength)
	if err != nil {
		status := http.StatusInternalServerError
		if update.ClientError(err) {
			status = http.StatusBadRequest
		}
		s.events.UpdateFailed(err.Error())
		c.String(status, "Update failed: %v", err)
		return
	}

	if previous != "" && report.Version != "" {
		if cmp, err := utils.CompareVersions(report.Version, previous); err == nil && cmp < 0 {
			log.Warn().
				Str("from", previous).
				Str("to", report.Version).
				Msg("firmware downgrade installed")
		}
	}

	log.Info().
		Str("session", report.Session.String()).
		Str("target", report.Target).
		Int64("written", report.Written).
		Str("version", report.Version).
		Dur("elapsed", report.Elapsed).
		Msg("firmware update committed")

	s.events.Updated(report.Version)
	c.String(http.StatusOK, "OK, rebooting")
	s.restarter.Restart("firmware update", s.cfg.System.RestartDelay)
}

func (s *Server) handleReboot(c *gin.Context) {
	c.String(http.StatusOK, "OK!")
	s.events.Rebooting("user request")
	s.restarter.Restart("user request", s.cfg.System.RestartDelay)
}

func (s *Server) handleFactoryReset(c *gin.Context) {
	if err := s.store.FactoryReset(); err != nil {
		log.Error().Err(err).Msg("factory reset failed")
		c.String(http.StatusInternalServerError, "factory reset failed")
		return
	}

	c.String(http.StatusOK, "Factory reset OK. Rebooting...")
	s.events.Rebooting("factory reset")
	s.restarter.Restart("factory reset", s.cfg.System.RestartDelay)
}

func (s *Server) handleSysinfo(c *gin.Context) {
	info := s.collector.Collect()

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)

	io.WriteString(c.Writer, htmlSysinfoHead)

	device := []string{
		fmt.Sprintf("Hostname: %s", info.Hostname),
		fmt.Sprintf("Uptime: %s", info.Uptime),
		fmt.Sprintf("Runtime: %s", info.GoVersion),
		fmt.Sprintf("Goroutines: %d", info.Goroutines),
		fmt.Sprintf("Heap: %s in use / %s reserved", info.HeapInUse, info.HeapSys),
	}
	io.WriteString(c.Writer, sysinfoGroup("Device", device))

	var slots []string
	for _, slot := range info.Slots {
		line := fmt.Sprintf("%s (%s)", slot.Label, slot.Size)
		if slot.Active {
			line += " [active]"
		}
		if slot.Valid {
			line += fmt.Sprintf(": %s %s", slot.Project, slot.Version)
		} else {
			line += ": empty"
		}
		slots = append(slots, line)
	}
	io.WriteString(c.Writer, sysinfoGroup("Firmware slots", slots))

	var ifaces []string
	for _, ni := range info.Interfaces {
		state := "down"
		if ni.Up {
			state = "up"
		}
		ifaces = append(ifaces, fmt.Sprintf("%s (%s): %s",
			ni.Name, state, strings.Join(ni.Addresses, ", ")))
	}
	io.WriteString(c.Writer, sysinfoGroup("Network", ifaces))

	io.WriteString(c.Writer, htmlSysinfoTail)
}
