package auth

import (
	"context"
	"errors"
	"testing"

	goldap "github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldapbridge/internal/ldap"
	"github.com/isometry/ldapbridge/internal/users"
)

func listing(hasMore bool, entries ...*goldap.Entry) *ldap.SearchResult {
	return &ldap.SearchResult{Entries: entries, Total: len(entries), HasMore: hasMore}
}

func pagedConn(results ...*ldap.SearchResult) *mockConn {
	conn := &mockConn{}
	for _, result := range results {
		conn.On("SearchWithPaging", mock.Anything, mock.MatchedBy(func(req *ldap.SearchRequest) bool {
			return req.Filter == "(objectClass=inetOrgPerson)" && req.Scope == ldap.ScopeWholeSubtree
		})).Return(result, nil).Once()
	}
	conn.On("Close").Return(nil)
	return conn
}

func seedUser(t *testing.T, svc *users.Service, data map[string]any) *users.User {
	t.Helper()
	user, _, err := svc.UpdateOrCreate(context.Background(), []string{"username"}, data)
	require.NoError(t, err)
	return user
}

func TestSyncUsers(t *testing.T) {
	anonymous := goldap.NewEntry("cn=anonymous,"+testSearchBase, map[string][]string{"cn": {"anonymous"}})

	conn := pagedConn(
		listing(false, personEntry("alice"), personEntry("bob"), anonymous),
		listing(false, personEntry("alice"), personEntry("carol")),
	)
	backend, _, svc := newTestBackend(testConfig(), conn)
	ctx := context.Background()

	result, err := backend.SyncUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 2, Skipped: 1}, result)

	result, err = backend.SyncUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 1, Updated: 1}, result)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, user := range all {
		assert.False(t, user.HasUsablePassword(), user.Username)
		assert.False(t, user.LastSynced.IsZero(), user.Username)
	}
	conn.AssertExpectations(t)
}

func TestSyncUsersErrors(t *testing.T) {
	t.Run("listing failure", func(t *testing.T) {
		conn := &mockConn{}
		conn.On("SearchWithPaging", mock.Anything, mock.Anything).
			Return(nil, ldap.NewLDAPError("search", goldap.NewError(goldap.LDAPResultUnavailable, errors.New("down")))).Once()
		conn.On("Close").Return(nil).Once()

		backend, _, _ := newTestBackend(testConfig(), conn)

		_, err := backend.SyncUsers(context.Background())
		require.Error(t, err)
		assert.Equal(t, ldap.ErrorCategoryServer, ldap.GetErrorCategory(err))
	})

	t.Run("incomplete listing keeps partial counts", func(t *testing.T) {
		conn := pagedConn(listing(true, personEntry("alice")))
		backend, _, _ := newTestBackend(testConfig(), conn)

		result, err := backend.SyncUsers(context.Background())
		require.ErrorIs(t, err, ldap.ErrIncompleteListing)
		assert.Equal(t, 1, result.Created)
	})

	t.Run("dial failure", func(t *testing.T) {
		backend, dialer, _ := newTestBackend(testConfig(), nil)
		dialer.err = errors.New("connection refused")

		_, err := backend.SyncUsers(context.Background())
		require.ErrorContains(t, err, "connection refused")
	})
}

func TestCleanUsers(t *testing.T) {
	tests := []struct {
		name        string
		purge       bool
		want        users.CleanResult
		wantActive  []string
		wantMissing []string
	}{
		{
			name:        "deactivate",
			want:        users.CleanResult{Checked: 2, Deactivated: 1},
			wantActive:  []string{"alice", "local"},
			wantMissing: nil,
		},
		{
			name:        "purge",
			purge:       true,
			want:        users.CleanResult{Checked: 3, Deleted: 2},
			wantActive:  []string{"alice", "local"},
			wantMissing: []string{"bob", "dormant"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outside := goldap.NewEntry("uid=bob,ou=contractors,dc=example,dc=com", map[string][]string{"uid": {"bob"}})
			conn := pagedConn(listing(false, personEntry("alice"), outside))

			backend, _, svc := newTestBackend(testConfig(), conn)
			ctx := context.Background()

			seedUser(t, svc, map[string]any{"username": "alice", "password": "!ldap"})
			seedUser(t, svc, map[string]any{"username": "bob", "password": "!ldap"})
			seedUser(t, svc, map[string]any{"username": "dormant", "password": "!ldap", "is_active": false})
			seedUser(t, svc, map[string]any{"username": "local", "password": "$2a$04$local"})

			result, err := backend.CleanUsers(ctx, tt.purge)
			require.NoError(t, err)
			assert.Equal(t, tt.want, result)

			all, err := svc.List(ctx)
			require.NoError(t, err)

			active := map[string]bool{}
			for _, user := range all {
				active[user.Username] = user.IsActive
			}
			for _, username := range tt.wantActive {
				assert.True(t, active[username], username)
			}
			for _, username := range tt.wantMissing {
				assert.NotContains(t, active, username)
			}
			if !tt.purge {
				assert.False(t, active["bob"])
				assert.False(t, active["dormant"])
			}
		})
	}
}

func TestCleanUsersIncompleteListing(t *testing.T) {
	conn := pagedConn(listing(true, personEntry("alice")))
	backend, _, svc := newTestBackend(testConfig(), conn)
	ctx := context.Background()

	bob := seedUser(t, svc, map[string]any{"username": "bob", "password": "!ldap"})

	_, err := backend.CleanUsers(ctx, true)
	require.ErrorIs(t, err, ldap.ErrIncompleteListing)

	got, err := svc.Get(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestCleanUsersMultipleLookupFields(t *testing.T) {
	entry := goldap.NewEntry("uid=x,"+testSearchBase, map[string][]string{
		"uid":  {"x"},
		"mail": {"y,email="},
	})
	conn := pagedConn(listing(false, entry))

	config := testConfig()
	config.LookupFields = ldap.LookupFields{"username", "email"}
	backend, _, svc := newTestBackend(config, conn)
	ctx := context.Background()

	present := seedUser(t, svc, map[string]any{"username": "x", "email": "y,email=", "password": "!ldap"})
	// Joined as "field=value" pairs, both users would render the same.
	lookalike := seedUser(t, svc, map[string]any{"username": "x,email=y", "email": "", "password": "!ldap"})

	result, err := backend.CleanUsers(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, users.CleanResult{Checked: 2, Deactivated: 1}, result)

	got, err := svc.Get(ctx, present.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	got, err = svc.Get(ctx, lookalike.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestLookupKey(t *testing.T) {
	assert.NotEqual(t, lookupKey([]any{"x,b=y", ""}), lookupKey([]any{"x", "y,b="}))
	assert.NotEqual(t, lookupKey([]any{"a", ""}), lookupKey([]any{"", "a"}))
	assert.Equal(t, lookupKey([]any{"a", nil}), lookupKey([]any{"a", ""}))
	assert.Equal(t, "alice\x00true", lookupKey([]any{"alice", true}))
}
