package wa

import (
	"context"
	"fmt"

	"github.com/mvtorres/groupwatch/internal/bus"
	"github.com/mvtorres/groupwatch/internal/session"
	"github.com/mvtorres/groupwatch/internal/source"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter wraps the whatsmeow client and implements source.Client over
// it. Messages arrive by push, so FetchRecentMessages reads the adapter's
// per-group buffer instead of the network.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	buffer    *MessageBuffer
	bus       *bus.Bus
	logger    *zap.Logger
	session   string
}

var _ source.Client = (*Adapter)(nil)

// NewAdapter creates a WhatsApp adapter for the given session.
func NewAdapter(ctx context.Context, sessionName string, buffer *MessageBuffer, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("Groupwatch", [3]uint32{0, 1, 0})

	dbPath := session.SourceDBPath(sessionName)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	return &Adapter{
		client:    whatsmeow.NewClient(deviceStore, nil),
		container: container,
		buffer:    buffer,
		bus:       b,
		logger:    logger,
		session:   sessionName,
	}, nil
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

func (a *Adapter) available() error {
	if !a.IsLoggedIn() || !a.client.IsConnected() {
		return source.ErrUnavailable
	}
	return nil
}

// ListGroups returns the groups the account participates in.
func (a *Adapter) ListGroups(ctx context.Context) ([]source.GroupMeta, error) {
	if err := a.available(); err != nil {
		return nil, err
	}
	groups, err := a.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}
	metas := make([]source.GroupMeta, 0, len(groups))
	for _, g := range groups {
		metas = append(metas, source.GroupMeta{
			ID:      g.JID.String(),
			Name:    g.Name,
			IsGroup: g.JID.Server == types.GroupServer,
		})
	}
	return metas, nil
}

// GetMembers returns the current membership of a group.
func (a *Adapter) GetMembers(ctx context.Context, groupID string) ([]source.Member, error) {
	if err := a.available(); err != nil {
		return nil, err
	}
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return nil, fmt.Errorf("parse group JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get group info: %w", err)
	}

	members := make([]source.Member, 0, len(info.Participants))
	for _, p := range info.Participants {
		pn := a.resolveLID(ctx, p.JID)
		m := source.Member{
			ID:      p.JID.ToNonAD().String(),
			IsAdmin: p.IsAdmin || p.IsSuperAdmin,
		}
		if pn.Server == types.DefaultUserServer {
			m.Phone = pn.User
		}
		if c, err := a.contactInfo(ctx, pn); err == nil {
			m.DisplayName = c.DisplayName
		}
		members = append(members, m)
	}
	return members, nil
}

// FetchRecentMessages returns the newest buffered messages for a group,
// oldest first.
func (a *Adapter) FetchRecentMessages(_ context.Context, groupID string, limit int) ([]source.RecentMessage, error) {
	if err := a.available(); err != nil {
		return nil, err
	}
	return a.buffer.Recent(groupID, limit), nil
}

// ResolveContact looks up display metadata for a member id in the
// device store.
func (a *Adapter) ResolveContact(ctx context.Context, id string) (source.Contact, error) {
	jid, err := types.ParseJID(id)
	if err != nil {
		return source.Contact{}, fmt.Errorf("parse JID: %w", err)
	}
	return a.contactInfo(ctx, a.resolveLID(ctx, jid))
}

func (a *Adapter) contactInfo(ctx context.Context, jid types.JID) (source.Contact, error) {
	c := source.Contact{}
	if jid.Server == types.DefaultUserServer {
		c.Phone = jid.User
	}

	info, err := a.client.Store.Contacts.GetContact(ctx, jid.ToNonAD())
	if err != nil {
		return c, fmt.Errorf("get contact: %w", err)
	}
	switch {
	case info.PushName != "":
		c.DisplayName = info.PushName
	case info.FullName != "":
		c.DisplayName = info.FullName
	case info.BusinessName != "":
		c.DisplayName = info.BusinessName
	}
	return c, nil
}

// resolveLID maps a hidden-user (LID) JID to its phone-number JID when
// the device store knows the mapping. Non-LID JIDs pass through.
func (a *Adapter) resolveLID(ctx context.Context, jid types.JID) types.JID {
	if jid.Server != types.HiddenUserServer && jid.Server != types.HostedLIDServer {
		return jid
	}
	if a.client == nil || a.client.Store == nil || a.client.Store.LIDs == nil {
		return jid
	}
	pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid)
	if err != nil || pn.IsEmpty() {
		return jid
	}
	return pn
}
