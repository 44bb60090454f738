package consent

// resolverProgram is evaluated in-page as a single function taking the
// vocabulary/selector lists as its only argument. Keeping the vocabulary as
// data (passed in at call time) rather than hardcoding it into the script
// means new CMP selectors or languages never require touching this string.
const resolverProgram = `function(cfg) {
  var result = { clicked: false, removed: 0, framesTried: 0, errors: [] };

  function allDocuments() {
    var docs = [document];
    try {
      var iframes = document.querySelectorAll('iframe');
      for (var i = 0; i < iframes.length; i++) {
        try {
          if (iframes[i].contentDocument) docs.push(iframes[i].contentDocument);
        } catch (e) {}
      }
    } catch (e) {}
    return docs;
  }

  function visible(el) {
    if (!el) return false;
    var r = el.getBoundingClientRect();
    var style = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && style.visibility !== 'hidden' && style.display !== 'none';
  }

  function tryClickSelectors(root, selectors) {
    for (var i = 0; i < selectors.length; i++) {
      var el;
      try {
        el = root.querySelector(selectors[i]);
      } catch (e) {
        continue;
      }
      if (el && visible(el)) {
        try {
          el.click();
          return true;
        } catch (e) {}
      }
    }
    return false;
  }

  function collectShadowRoots(root, acc) {
    var walker = root.querySelectorAll('*');
    for (var i = 0; i < walker.length; i++) {
      if (walker[i].shadowRoot) {
        acc.push(walker[i].shadowRoot);
        collectShadowRoots(walker[i].shadowRoot, acc);
      }
    }
  }

  function tryClickText(root, texts) {
    var candidates = root.querySelectorAll("button, a, [role='button'], input[type='button'], input[type='submit']");
    for (var i = 0; i < candidates.length; i++) {
      var el = candidates[i];
      if (!visible(el)) continue;
      var label = ((el.innerText || el.value || el.getAttribute('aria-label') || '') + '').trim().toLowerCase();
      if (!label) continue;
      for (var j = 0; j < texts.length; j++) {
        if (label === texts[j] || label.indexOf(texts[j]) !== -1) {
          try {
            el.click();
            return true;
          } catch (e) {}
        }
      }
    }
    return false;
  }

  var docs = allDocuments();
  for (var attempt = 0; attempt < cfg.attempts && !result.clicked; attempt++) {
    for (var d = 0; d < docs.length; d++) {
      result.framesTried++;
      var root = docs[d];
      if (tryClickSelectors(root, cfg.selectors) || tryClickSelectors(root, cfg.extraSelectors)) {
        result.clicked = true;
        break;
      }
      if (tryClickText(root, cfg.texts)) {
        result.clicked = true;
        break;
      }
      var shadows = [];
      try {
        collectShadowRoots(root.body || root, shadows);
      } catch (e) {}
      for (var s = 0; s < shadows.length; s++) {
        if (tryClickSelectors(shadows[s], cfg.selectors) || tryClickText(shadows[s], cfg.texts)) {
          result.clicked = true;
          break;
        }
      }
      if (result.clicked) break;
    }
  }

  var removeSelectors = cfg.overlaySelectors.concat(cfg.forceRemoveSelectors);
  for (var d2 = 0; !result.clicked && d2 < docs.length; d2++) {
    for (var r = 0; r < removeSelectors.length; r++) {
      var nodes;
      try {
        nodes = docs[d2].querySelectorAll(removeSelectors[r]);
      } catch (e) {
        continue;
      }
      for (var n = 0; n < nodes.length; n++) {
        try {
          nodes[n].parentNode.removeChild(nodes[n]);
          result.removed++;
        } catch (e) {}
      }
    }
  }

  try {
    localStorage.setItem('OptanonAlertBoxClosed', new Date().toISOString());
    localStorage.setItem('cookieconsent_status', 'allow');
    localStorage.setItem('CookieConsent', 'true');
    sessionStorage.setItem('cookiebanner_accepted', '1');
    document.cookie = 'cookieconsent_status=allow; path=/; max-age=31536000';
    document.cookie = 'CookieConsent=true; path=/; max-age=31536000';
  } catch (e) {
    result.errors.push('persist: ' + e.message);
  }

  try {
    var lockedClasses = ['no-scroll', 'modal-open', 'overflow-hidden', 'noscroll', 'ot-sdk-show-settings'];
    [document.documentElement, document.body].forEach(function (el) {
      if (!el) return;
      el.style.removeProperty('overflow');
      el.style.removeProperty('position');
      el.style.removeProperty('height');
      lockedClasses.forEach(function (c) { el.classList.remove(c); });
    });
  } catch (e) {
    result.errors.push('scroll-unlock: ' + e.message);
  }

  return result;
}`
