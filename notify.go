package chatkit

// ============================================================================
// Notification Policy
// ============================================================================

// Notifier surfaces alerts to the user. Toast is the transient in-app alert;
// Desktop is the OS-level notification. Implementations must not block.
type Notifier interface {
	Toast(title, body string)
	Desktop(title, body string)
}

// FocusState reports whether the hosting surface can currently be seen.
// Hidden means the surface is not visible at all; Focused means it holds
// input focus. A nil FocusState is treated as visible and focused.
type FocusState interface {
	Hidden() bool
	Focused() bool
}

// NotificationPolicy decides how an inbound message for an inactive
// conversation is surfaced: the in-app toast always fires, the desktop
// notification only when the surface is hidden or unfocused and permission
// was previously granted. Permission failures are best-effort and swallowed.
type NotificationPolicy struct {
	Notifier Notifier
	Focus    FocusState
	// PermissionGranted reports whether OS notification permission is held.
	// Nil means never granted.
	PermissionGranted func() bool
}

// Deliver applies the policy for one message.
func (p *NotificationPolicy) Deliver(title, body string) {
	if p == nil || p.Notifier == nil {
		return
	}
	p.Notifier.Toast(title, body)

	if p.PermissionGranted == nil || !p.PermissionGranted() {
		return
	}
	away := true
	if p.Focus != nil {
		away = p.Focus.Hidden() || !p.Focus.Focused()
	} else {
		away = false
	}
	if away {
		p.Notifier.Desktop(title, body)
	}
}
