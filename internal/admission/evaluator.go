// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package admission decides whether a request reaches the offer URL or the
// decoy page. The evaluator runs a fixed rule pipeline over the request's
// secret parameter, geolocation, user agent and per-IP attempt history.
package admission

import (
	"context"
	"strings"
	"time"

	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/metrics"
	"github.com/tomtom215/veilgate/internal/models"
	"github.com/tomtom215/veilgate/internal/paramauth"
	"github.com/tomtom215/veilgate/internal/signature"
	"github.com/tomtom215/veilgate/internal/throttle"
)

// Denial reasons. Each rule has a distinct reason so access logs show
// exactly which gate a visitor hit.
const (
	ReasonParamMissing   = "secret parameter missing"
	ReasonParamInvalid   = "secret parameter invalid"
	ReasonParamExpired   = "secret parameter expired"
	ReasonAdsOnly        = "access restricted to Facebook/Instagram ad traffic"
	ReasonClickLimit     = "click limit reached"
	ReasonOutsideHours   = "outside allowed hours"
	ReasonCountryNotIn   = "country not in allow list"
	ReasonCountryBlocked = "country blocked"
	ReasonIPBlocked      = "IP blocked"
	ReasonISPBlocked     = "ISP blocked"
	ReasonMobileOnly     = "mobile devices only"
	ReasonBot            = "bot detected (user agent)"
	ReasonAutomation     = "automation tool detected"
)

// Request carries everything the evaluator inspects about one visitor.
type Request struct {
	IP          string
	UserAgent   string
	Referer     string
	QueryParams map[string]string
	ParamCode   string
}

// GeoResolver resolves an IP to a geolocation record. Resolution never
// fails outright; unresolvable IPs produce the unknown record.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) models.GeoRecord
}

// TelemetrySink receives one access log per decision. Implementations must
// not block: the evaluator calls Emit on the request path.
type TelemetrySink interface {
	Emit(log models.AccessLog)
}

// Evaluator orchestrates the admission pipeline for one gateway instance.
type Evaluator struct {
	geo       GeoResolver
	throttle  *throttle.Throttle
	auth      *paramauth.Authenticator
	telemetry TelemetrySink
	now       func() time.Time
}

// NewEvaluator wires the evaluator's collaborators. telemetry may be nil.
func NewEvaluator(geo GeoResolver, th *throttle.Throttle, auth *paramauth.Authenticator, telemetry TelemetrySink) *Evaluator {
	return &Evaluator{
		geo:       geo,
		throttle:  th,
		auth:      auth,
		telemetry: telemetry,
		now:       time.Now,
	}
}

// Evaluate runs the full rule pipeline and returns the admission decision.
// Rule order is fixed: the secret parameter gates everything, an active
// throttle block ends evaluation early without counting the attempt, the
// remaining rules run first-match, and the throttle commit runs last so
// denied attempts are counted even when an earlier rule produced the
// denial. The commit may override the reason when this attempt trips the
// block.
func (e *Evaluator) Evaluate(ctx context.Context, policy *models.DestinationPolicy, req Request) models.AccessDecision {
	start := e.now()
	geo := e.geo.Resolve(ctx, req.IP)

	allowed, reason, throttled := e.evaluate(policy, req, geo)
	if !throttled {
		// An active block skips the commit so the countdown reason survives
		// and retries during the block do not extend it.
		allowed, reason = e.throttle.Commit(policy.ID, req.IP, req.UserAgent, allowed, reason)
	}

	decision := models.AccessDecision{Allowed: allowed, Reason: reason}
	metrics.RecordAdmission(allowed, reasonClass(reason), e.now().Sub(start))
	e.emit(policy, req, geo, decision)

	logging.Debug().
		Str("destination", policy.Slug).
		Str("ip", req.IP).
		Str("country", geo.CountryCode).
		Bool("allowed", allowed).
		Str("reason", reason).
		Msg("Admission decision")

	return decision
}

// evaluate runs the rule pipeline. The third return value is true when the
// denial came from an already-active throttle block; Evaluate then skips
// the commit.
func (e *Evaluator) evaluate(policy *models.DestinationPolicy, req Request, geo models.GeoRecord) (bool, string, bool) {
	// Secret parameter: hard gate, evaluated before everything else.
	if req.ParamCode == "" {
		return false, ReasonParamMissing, false
	}
	if !paramauth.Verify(policy, req.ParamCode) {
		return false, ReasonParamInvalid, false
	}
	if policy.ParamTTL > 0 && e.auth.IsExpired(policy.ID, policy, req.ParamCode) {
		return false, ReasonParamExpired, false
	}

	// An active temporary block short-circuits the rest of the pipeline.
	if blocked, reason := e.throttle.Check(policy.ID, req.IP); blocked {
		return false, reason, true
	}

	if policy.AdsOnly && !signature.IsAdTraffic(req.Referer, req.UserAgent, req.QueryParams) {
		return false, ReasonAdsOnly, false
	}

	if policy.MaxClicks > 0 && policy.Clicks >= policy.MaxClicks {
		return false, ReasonClickLimit, false
	}

	if policy.AllowedHours != "" && !WithinAllowedHours(policy.AllowedHours, e.now()) {
		return false, ReasonOutsideHours, false
	}

	// Country filters only apply when geolocation actually resolved.
	cc := strings.ToUpper(geo.CountryCode)
	if cc != "" && cc != models.UnknownCountryCode {
		if len(policy.AllowedCountries) > 0 && !ContainsIgnoreCase(policy.AllowedCountries, cc) {
			return false, ReasonCountryNotIn, false
		}
		if len(policy.BlockedCountries) > 0 && ContainsIgnoreCase(policy.BlockedCountries, cc) {
			return false, ReasonCountryBlocked, false
		}
	}

	if len(policy.BlockedIPs) > 0 && IsIPBlocked(req.IP, policy.BlockedIPs) {
		return false, ReasonIPBlocked, false
	}

	if len(policy.BlockedISPs) > 0 && IsISPBlocked(geo.ISP, geo.Org, policy.BlockedISPs) {
		return false, ReasonISPBlocked, false
	}

	if policy.MobileOnly && !signature.IsMobileDevice(req.UserAgent) {
		return false, ReasonMobileOnly, false
	}

	if policy.BotProtection {
		if signature.IsBot(req.UserAgent) {
			return false, ReasonBot, false
		}
		if signature.IsAutomationTool(req.UserAgent) {
			return false, ReasonAutomation, false
		}
	}

	return true, "", false
}

func (e *Evaluator) emit(policy *models.DestinationPolicy, req Request, geo models.GeoRecord, decision models.AccessDecision) {
	if e.telemetry == nil {
		return
	}
	e.telemetry.Emit(models.AccessLog{
		Timestamp:     e.now(),
		DestinationID: policy.ID,
		Slug:          policy.Slug,
		IP:            req.IP,
		Country:       geo.Country,
		CountryCode:   geo.CountryCode,
		Region:        geo.Region,
		RegionName:    geo.RegionName,
		City:          geo.City,
		ISP:           geo.ISP,
		UserAgent:     req.UserAgent,
		Referer:       req.Referer,
		Allowed:       decision.Allowed,
		Reason:        decision.Reason,
	})
}

// reasonClass folds free-form reasons into a bounded label set so the
// Prometheus decision counter stays low-cardinality. The throttle reasons
// embed a live countdown and would otherwise explode the label space.
func reasonClass(reason string) string {
	switch {
	case reason == "":
		return "allowed"
	case strings.Contains(reason, "retry in"), reason == throttle.BlockedReason:
		return "throttled"
	case strings.HasPrefix(reason, "secret parameter"):
		return "param"
	case reason == ReasonBot, reason == ReasonAutomation:
		return "bot"
	case reason == ReasonCountryNotIn, reason == ReasonCountryBlocked:
		return "country"
	case reason == ReasonIPBlocked, reason == ReasonISPBlocked:
		return "network"
	case reason == ReasonMobileOnly:
		return "device"
	case reason == ReasonAdsOnly:
		return "ads_only"
	case reason == ReasonClickLimit:
		return "quota"
	case reason == ReasonOutsideHours:
		return "hours"
	default:
		return "other"
	}
}
