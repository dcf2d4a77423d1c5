package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// GetGroup fetches a group by name. It returns (nil, nil) when absent.
func (s *Store) GetGroup(ctx context.Context, name string) (*Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM auth_groups WHERE name = ?`, name).Scan(&group.ID, &group.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &group, nil
}

// GroupExists reports whether a group with the name exists.
func (s *Store) GroupExists(ctx context.Context, name string) (bool, error) {
	found, err := exists(ctx, s.db, `SELECT COUNT(1) FROM auth_groups WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("group exists: %w", err)
	}
	return found, nil
}

// InsertGroup stores a group.
func (s *Store) InsertGroup(ctx context.Context, group *Group) error {
	if group == nil || strings.TrimSpace(group.Name) == "" {
		return errors.New("group name is required")
	}
	res, err := s.execWithRetry(ctx, `INSERT INTO auth_groups (name) VALUES (?)`, group.Name)
	if err != nil {
		return wrapInsertError("insert group", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		group.ID = id
	}
	return nil
}

// CreateGroup is InsertGroup for callers that only have a name.
func (s *Store) CreateGroup(ctx context.Context, name string) (*Group, error) {
	group := &Group{Name: name}
	if err := s.InsertGroup(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// DeleteGroup removes a group. Collection sets still referencing it block the delete.
func (s *Store) DeleteGroup(ctx context.Context, name string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM auth_groups WHERE name = ?`, name)
	if err != nil {
		return false, fmt.Errorf("delete group: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetUser fetches a user by username. It returns (nil, nil) when absent.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var (
		user   User
		joined string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, date_joined FROM auth_users WHERE username = ?`, username,
	).Scan(&user.ID, &user.Username, &user.Email, &joined)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	user.DateJoined = parseTime(joined)
	return &user, nil
}

// UserExists reports whether a user with the username exists.
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	found, err := exists(ctx, s.db, `SELECT COUNT(1) FROM auth_users WHERE username = ?`, username)
	if err != nil {
		return false, fmt.Errorf("user exists: %w", err)
	}
	return found, nil
}

// InsertUser stores a user. A zero DateJoined is set to the current time.
func (s *Store) InsertUser(ctx context.Context, user *User) error {
	if user == nil || strings.TrimSpace(user.Username) == "" {
		return errors.New("username is required")
	}
	if user.DateJoined.IsZero() {
		user.DateJoined = s.now()
	}
	user.DateJoined = NormalizeTime(user.DateJoined)
	res, err := s.execWithRetry(ctx,
		`INSERT INTO auth_users (username, email, date_joined) VALUES (?, ?, ?)`,
		user.Username, user.Email, formatTime(user.DateJoined),
	)
	if err != nil {
		return wrapInsertError("insert user", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		user.ID = id
	}
	return nil
}

// CreateUser is InsertUser for callers that only have a username and email.
func (s *Store) CreateUser(ctx context.Context, username, email string) (*User, error) {
	user := &User{Username: username, Email: email}
	if err := s.InsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
