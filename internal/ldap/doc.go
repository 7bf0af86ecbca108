/*
Package ldap bridges directory identities to local application users.

# Identifiers

A user is looked up by the values of a configured, ordered list of lookup fields
(LookupFields). ResolveUserIdentifier turns positional or named call arguments
into a UserIdentifier, and a FieldAttributeMapping translates local field names
into directory attribute names.

# Dialects

A Dialect decides the bind name for an identifier:

  - OpenLDAP: a DN built from the identifier under the search base
  - ActiveDirectory: the bare sAMAccountName or DOMAIN\username
  - ActiveDirectoryPrincipal: the userPrincipalName, username@domain

CleanLDAPName strips everything outside [a-zA-Z0-9_-] from values placed in a DN.

# Connections

Dialer opens connections to configured ldap:// or ldaps:// URLs, or to servers found
by SRV discovery for a domain, retrying transient failures with exponential backoff.
A Conn is a single connection and is not safe for concurrent use; each login or
sync opens its own and closes it when done. Binds are never retried.

# Directory Reads

Directory searches below a base for entries of one object class:

	dialer, err := ldap.NewDialer(&ldap.ConnectionConfig{
		LDAPURLs:       []string{"ldaps://ldap.example.com"},
		ConnectTimeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Bind(ctx, bindDN, password); err != nil {
		return err
	}

	dir := ldap.NewDirectory(conn, ldap.DirectoryConfig{
		SearchBase:  "ou=people,dc=example,dc=com",
		ObjectClass: "inetOrgPerson",
		UserFields:  ldap.FieldAttributeMapping{"username": "uid", "email": "mail"},
	})
	for user, err := range dir.IterUsers(ctx) {
		...
	}

# Error Handling

Failed directory operations are returned as *LDAPError, categorized by result code
and marked retryable or not. Input problems use the sentinel errors
ErrAmbiguousArguments, ErrArityMismatch, ErrUnknownOrMissingFields and
ErrUnmappedField, so callers can match them with errors.Is.
*/
package ldap
