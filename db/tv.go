package db

import (
	"context"
	"database/sql"

	"github.com/onnwee/strimbot/tvguide"
)

// TVStore persists TV stations and shows. It implements tvguide.Store.
type TVStore struct{ DB *sql.DB }

func (s *TVStore) LoadStations(ctx context.Context) ([]tvguide.Station, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT shortname, name, channel_num FROM tv_stations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tvguide.Station
	for rows.Next() {
		var st tvguide.Station
		if err := rows.Scan(&st.Shortname, &st.Name, &st.ChannelNum); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *TVStore) UpsertStation(ctx context.Context, st tvguide.Station) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tv_stations(shortname, name, channel_num) VALUES($1,$2,$3)
		 ON CONFLICT(shortname) DO UPDATE SET name=EXCLUDED.name, channel_num=EXCLUDED.channel_num`,
		st.Shortname, st.Name, st.ChannelNum)
	return err
}

func (s *TVStore) LoadShows(ctx context.Context) ([]tvguide.Show, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT shortname, name, station, weekday FROM tv_shows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tvguide.Show
	for rows.Next() {
		var sh tvguide.Show
		var weekday int
		if err := rows.Scan(&sh.Shortname, &sh.Name, &sh.Station, &weekday); err != nil {
			return nil, err
		}
		sh.Weekday = weekday
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *TVStore) UpsertShow(ctx context.Context, sh tvguide.Show) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO tv_shows(shortname, name, station, weekday) VALUES($1,$2,$3,$4)
		 ON CONFLICT(shortname) DO UPDATE SET name=EXCLUDED.name, station=EXCLUDED.station, weekday=EXCLUDED.weekday`,
		sh.Shortname, sh.Name, sh.Station, sh.Weekday)
	return err
}

func (s *TVStore) DeleteShow(ctx context.Context, shortname string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM tv_shows WHERE shortname=$1`, shortname)
	return err
}
