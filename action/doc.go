// Package action provides the built-in actions, response actions and a
// registry resolving action names for the message processor.
//
// Built-ins:
//
//   - action_listen: ends a prediction loop and waits for user input
//   - action_session_start: opens a session, optionally carrying slots over
//   - action_restart: resets the conversation
//   - action_default_fallback: utters utter_default when declared
//
// Any name starting with "utter_" resolves to a Response action rendering the
// domain response of that name.
package action
