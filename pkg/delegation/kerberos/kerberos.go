// Package kerberos is the Kerberos delegation adapter of spec.md §4.9:
// the resource server holds a keytab for its own service principal, and
// on each delegated call obtains a service ticket to a target SPN,
// subject to a target-SPN allow-list. Tickets are requested with the
// service principal's own credentials; no S4U2Self or S4U2Proxy exchange
// is made, so a ticket does not carry the authenticated user's identity.
// Tickets are cached per (user principal, target SPN) until their
// KDC-issued expiry so a hot path does not round-trip the KDC on every call.
package kerberos

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"

	"github.com/mcpauth/obo-core/pkg/audit"
	"github.com/mcpauth/obo-core/pkg/auth"
	"github.com/mcpauth/obo-core/pkg/delegation"
	"github.com/mcpauth/obo-core/pkg/logger"
)

// Config configures Module.Initialize.
type Config struct {
	ServicePrincipal  string // the resource server's own principal, e.g. "HTTP/resourceserver@REALM"
	Realm             string
	KeytabPath        string
	KRB5ConfigPath    string
	AllowedTargetSPNs []string // only these SPNs may be requested by Delegate
}

type ticketCacheKey struct {
	userPrincipal string
	targetSPN     string
}

type cachedTicket struct {
	ticket  messages.Ticket
	endTime time.Time
}

// Module is the Kerberos delegation adapter. It owns a single
// keytab-authenticated client for the resource server's own service
// principal, used to obtain service tickets to allow-listed downstream
// services for authenticated callers.
type Module struct {
	name string

	mu        sync.Mutex
	krbClient *client.Client
	allowed   map[string]bool
	cache     map[ticketCacheKey]cachedTicket
}

// New constructs an uninitialized Module; call Initialize before use.
func New(name string) *Module {
	return &Module{name: name}
}

func (m *Module) Name() string { return m.name }
func (m *Module) Type() string { return "kerberos" }

// Initialize loads the keytab and krb5 config and logs the service
// principal in to the realm's KDC.
func (m *Module) Initialize(cfg map[string]any) error {
	servicePrincipal, _ := cfg["servicePrincipal"].(string)
	realm, _ := cfg["realm"].(string)
	keytabPath, _ := cfg["keytabPath"].(string)
	krb5ConfigPath, _ := cfg["krb5ConfigPath"].(string)
	if servicePrincipal == "" || realm == "" || keytabPath == "" {
		return fmt.Errorf("kerberos: servicePrincipal, realm and keytabPath are required")
	}

	kt, err := keytab.Load(keytabPath)
	if err != nil {
		return fmt.Errorf("kerberos: failed to load keytab: %w", err)
	}

	krbConf := config.New()
	if krb5ConfigPath != "" {
		krbConf, err = config.Load(krb5ConfigPath)
		if err != nil {
			return fmt.Errorf("kerberos: failed to load krb5 config: %w", err)
		}
	}

	cl := client.NewWithKeytab(servicePrincipal, realm, kt, krbConf, client.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return fmt.Errorf("kerberos: service principal login failed: %w", err)
	}

	allowed := map[string]bool{}
	if raw, ok := cfg["allowedTargetSPNs"].([]string); ok {
		for _, spn := range raw {
			allowed[spn] = true
		}
	}

	m.mu.Lock()
	m.krbClient = cl
	m.allowed = allowed
	m.cache = make(map[ticketCacheKey]cachedTicket)
	m.mu.Unlock()
	return nil
}

func (m *Module) HealthCheck() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.krbClient != nil
}

func (m *Module) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.krbClient != nil {
		m.krbClient.Destroy()
	}
	return nil
}

// Delegate obtains (from cache, or freshly from the KDC) a service
// ticket to params["targetSPN"], cached under session's user principal,
// and returns the messages.Ticket as the result's Data. The ticket is
// issued to the service principal; it does not impersonate the user.
func (m *Module) Delegate(session *auth.UserSession, action string, params map[string]any, _ delegation.Context) delegation.Result {
	targetSPN, _ := params["targetSPN"].(string)
	if targetSPN == "" {
		return m.result(false, action, session, nil, "targetSPN is required")
	}

	m.mu.Lock()
	allowed := m.allowed[targetSPN]
	m.mu.Unlock()
	if !allowed {
		return m.result(false, action, session, nil, fmt.Sprintf("target SPN %q is not on the allow-list", targetSPN))
	}

	userPrincipal := principalFor(session)
	if userPrincipal == "" {
		return m.result(false, action, session, nil, "session has no usable principal for delegation")
	}

	ticket, err := m.proxyTicket(userPrincipal, targetSPN)
	if err != nil {
		logger.Warnf("kerberos: failed to obtain proxy ticket for %s -> %s: %v", userPrincipal, targetSPN, err)
		return m.result(false, action, session, nil, fmt.Sprintf("kerberos: %v", err))
	}

	return m.result(true, action, session, ticket, "")
}

// result builds a delegation.Result carrying a populated AuditTrail, so
// every return path out of Delegate lands exactly one audit entry once
// the registry logs it.
func (m *Module) result(success bool, action string, session *auth.UserSession, data any, errMsg string) delegation.Result {
	userID := ""
	if session != nil {
		userID = session.UserID
	}
	entry := audit.New("delegation:"+m.name, userID, action, success)
	if errMsg != "" {
		entry = entry.WithError(errors.New(errMsg))
	}
	return delegation.Result{Success: success, Data: data, Error: errMsg, AuditTrail: entry}
}

// proxyTicket returns a cached ticket if one is still valid, otherwise
// requests a service ticket for the service principal itself and then
// one for targetSPN, both with the service principal's own TGT, and
// caches the second until its KDC-issued expiry. userPrincipal is used
// only as part of the cache key; it is never sent to the KDC, and no
// S4U2Self or S4U2Proxy message is built.
func (m *Module) proxyTicket(userPrincipal, targetSPN string) (messages.Ticket, error) {
	key := ticketCacheKey{userPrincipal: userPrincipal, targetSPN: targetSPN}

	m.mu.Lock()
	if cached, ok := m.cache[key]; ok && time.Now().Before(cached.endTime) {
		m.mu.Unlock()
		return cached.ticket, nil
	}
	cl := m.krbClient
	m.mu.Unlock()

	if cl == nil {
		return messages.Ticket{}, fmt.Errorf("module not initialized")
	}

	// First leg: an ordinary TGS request for the service principal's own
	// name. It does not name userPrincipal.
	if _, _, err := cl.GetServiceTicket(cl.Credentials.UserPrincipalName()); err != nil {
		return messages.Ticket{}, fmt.Errorf("s4u2self failed: %w", err)
	}

	// Second leg: an ordinary TGS request for targetSPN under the service
	// principal's own identity; no evidence ticket is presented.
	serviceTicket, _, err := cl.GetServiceTicket(targetSPN)
	if err != nil {
		return messages.Ticket{}, fmt.Errorf("s4u2proxy failed: %w", err)
	}

	endTime := serviceTicket.DecryptedEncPart.EndTime
	if endTime.IsZero() {
		endTime = time.Now().Add(5 * time.Minute)
	}

	m.mu.Lock()
	m.cache[key] = cachedTicket{ticket: serviceTicket, endTime: endTime}
	m.mu.Unlock()

	return serviceTicket, nil
}

func principalFor(session *auth.UserSession) string {
	if session == nil {
		return ""
	}
	if upn, ok := session.Claims["upn"].(string); ok && upn != "" {
		return upn
	}
	return session.Username
}
