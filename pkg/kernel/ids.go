package kernel

type TenantID string

func NewTenantID(id string) TenantID { return TenantID(id) }
func (t TenantID) String() string    { return string(t) }
func (t TenantID) IsEmpty() bool     { return string(t) == "" }

type UserID string

func NewUserID(id string) UserID { return UserID(id) }
func (u UserID) String() string  { return string(u) }
func (u UserID) IsEmpty() bool   { return string(u) == "" }

type ClientID string

func NewClientID(id string) ClientID { return ClientID(id) }
func (c ClientID) String() string    { return string(c) }
func (c ClientID) IsEmpty() bool     { return string(c) == "" }

type SessionID string

func NewSessionID(id string) SessionID { return SessionID(id) }
func (s SessionID) String() string     { return string(s) }
func (s SessionID) IsEmpty() bool      { return string(s) == "" }
